package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとライブ配信を起動する。
	CommandServe Command = "serve"
	// CommandWorker はセッション掃除とお知らせの定期取り込みを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマのマイグレーションを操作する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIサーバーの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction は migrate サブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Usage はコマンドラインの書式。
const Usage = "usage: coletivo [serve | worker | migrate [up | down [N] | version] | healthcheck]"

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	// Migrate と Steps は CommandMigrate のときだけ使う。
	Migrate MigrateAction
	Steps   int
}

// ParseCommand はコマンドライン引数を解析する。
// 引数が空の場合は serve とする。未知のサブコマンドはエラーにする。
// serve / worker / healthcheck の後ろの引数は無視する。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: Command(args[0])}, nil
	case CommandMigrate:
		return parseMigrate(args[1:])
	default:
		return Invocation{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func parseMigrate(args []string) (Invocation, error) {
	inv := Invocation{Command: CommandMigrate, Migrate: MigrateUp}
	if len(args) == 0 {
		return inv, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp, MigrateVersion:
		if len(args) > 1 {
			return Invocation{}, fmt.Errorf("migrate %s takes no arguments", args[0])
		}
		inv.Migrate = MigrateAction(args[0])
	case MigrateDown:
		inv.Migrate = MigrateDown
		inv.Steps = 1
		if len(args) > 2 {
			return Invocation{}, fmt.Errorf("migrate down takes at most one argument")
		}
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return Invocation{}, fmt.Errorf("migrate down: invalid step count %q", args[1])
			}
			inv.Steps = n
		}
	default:
		return Invocation{}, fmt.Errorf("unknown migrate action %q", args[0])
	}
	return inv, nil
}
