// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Message と Action は利用者向けの文言（ポルトガル語）で、内部情報は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ad, news, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeAdNotFound              = "AD_NOT_FOUND"
	ErrCodeProfileNotFound         = "PROFILE_NOT_FOUND"
	ErrCodePermissionDenied        = "PERMISSION_DENIED"
	ErrCodeInvalidArgument         = "INVALID_ARGUMENT"
	ErrCodeInvalidModerationStatus = "INVALID_MODERATION_STATUS"
	ErrCodeUnavailable             = "UNAVAILABLE"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeEmailInUse              = "EMAIL_IN_USE"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeFeedNotDetected         = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL              = "INVALID_URL"
	ErrCodeSSRFBlocked             = "SSRF_BLOCKED"
	ErrCodeFetchFailed             = "FETCH_FAILED"
	ErrCodeParseFailed             = "PARSE_FAILED"
)

// NewAdNotFoundError は広告未検出エラーを生成する。
func NewAdNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAdNotFound,
		Message:  "Anúncio não encontrado.",
		Category: "ad",
		Action:   "Atualize a página e tente novamente.",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "Perfil não encontrado.",
		Category: "auth",
		Action:   "Entre novamente na sua conta.",
	}
}

// NewNotFoundError は汎用の未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Registro não encontrado.",
		Category: "validation",
		Action:   "Verifique o identificador informado.",
	}
}

// NewOwnAdOnlyError は他人の広告を削除しようとした場合のエラーを生成する。
func NewOwnAdOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "Você só pode excluir os seus próprios anúncios.",
		Category: "ad",
		Action:   "Escolha um anúncio publicado pela sua conta.",
	}
}

// NewAdminOnlyError は管理者権限が必要な操作のエラーを生成する。
func NewAdminOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "Apenas administradores podem realizar esta ação.",
		Category: "auth",
		Action:   "Solicite acesso a um administrador do coletivo.",
	}
}

// NewInvalidModerationStatusError は無効なモデレーション状態のエラーを生成する。
func NewInvalidModerationStatusError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidModerationStatus,
		Message:  "Status de moderação inválido.",
		Category: "validation",
		Action:   "Use \"approved\" ou \"rejected\".",
	}
}

// NewInvalidArgumentError は入力値不正エラーを生成する。
func NewInvalidArgumentError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  message,
		Category: "validation",
		Action:   "Revise os campos do formulário e tente novamente.",
	}
}

// NewUnavailableError はストア障害時のエラーを生成する。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "Serviço temporariamente indisponível.",
		Category: "system",
		Action:   "Aguarde alguns instantes e tente novamente.",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "E-mail ou senha inválidos.",
		Category: "auth",
		Action:   "Confira seus dados de acesso.",
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "Este e-mail já está cadastrado.",
		Category: "auth",
		Action:   "Entre com a conta existente ou use outro e-mail.",
	}
}

// NewUnauthorizedError は未ログインのリクエストに対するエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "É preciso entrar na sua conta.",
		Category: "auth",
		Action:   "Faça login e tente novamente.",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("Não foi possível encontrar um feed RSS/Atom em: %s", url),
		Category: "news",
		Action:   "Informe o endereço direto do feed RSS/Atom.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URL inválida: %s", reason),
		Category: "validation",
		Action:   "Use um endereço começando com http:// ou https://.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "O acesso a este endereço foi bloqueado pela política de segurança.",
		Category: "validation",
		Action:   "Use o endereço de um site público.",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Falha ao obter o endereço: %s", reason),
		Category: "news",
		Action:   "Verifique o endereço e tente novamente mais tarde.",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "Não foi possível ler o feed.",
		Category: "news",
		Action:   "Confirme que o endereço aponta para um feed RSS/Atom válido.",
	}
}

// IsNotFound はerrが未検出系のAPIErrorかどうかを判定する。
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeNotFound, ErrCodeAdNotFound, ErrCodeProfileNotFound:
		return true
	}
	return false
}

// IsPermissionDenied はerrが権限エラーかどうかを判定する。
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodePermissionDenied
}

// IsInvalidArgument はerrが入力値エラーかどうかを判定する。
func IsInvalidArgument(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == ErrCodeInvalidArgument || apiErr.Code == ErrCodeInvalidModerationStatus
}
