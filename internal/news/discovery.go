package news

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedKind はフィードの種類（RSS/Atom）を表す。
type feedKind string

const (
	feedKindRSS  feedKind = "rss"
	feedKindAtom feedKind = "atom"
)

// feedLink はHTMLの <link rel="alternate"> から見つかった取り込み元の候補。
type feedLink struct {
	URL   string
	Kind  feedKind
	Title string
}

// feedMediaTypes はContent-Typeだけでフィードと判定できるメディアタイプ。
var feedMediaTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
	"application/feed+xml": true,
}

// xmlMediaTypes はボディを見て判定する汎用XMLのメディアタイプ。
var xmlMediaTypes = map[string]bool{
	"text/xml":        true,
	"application/xml": true,
}

// mediaTypeOf はContent-Typeからcharsetなどのパラメータを除いたメディアタイプを返す。
func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// looksLikeFeed はレスポンスがRSS/Atomフィードそのものかを判定する。
func looksLikeFeed(contentType string, body []byte) bool {
	mt := mediaTypeOf(contentType)
	if feedMediaTypes[mt] {
		return true
	}
	if !xmlMediaTypes[mt] || len(body) == 0 {
		return false
	}

	// ルート要素は先頭4KBに収まる
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	prefix := strings.ToLower(string(head))
	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// isHTML はメディアタイプがHTMLかを判定する。
func isHTML(contentType string) bool {
	return strings.Contains(mediaTypeOf(contentType), "html")
}

// discoverFeedLinks はHTMLのhead内にあるフィードへのリンクを列挙する。
// hrefはpageURLを基準に絶対URLへ解決する。
func discoverFeedLinks(page []byte, pageURL string) []feedLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []feedLink
	z := html.NewTokenizer(bytes.NewReader(page))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := map[string]string{}
			for {
				k, v, more := z.TagAttr()
				attrs[strings.ToLower(string(k))] = string(v)
				if !more {
					break
				}
			}

			if !strings.EqualFold(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			var kind feedKind
			switch strings.ToLower(attrs["type"]) {
			case "application/rss+xml":
				kind = feedKindRSS
			case "application/atom+xml":
				kind = feedKindAtom
			default:
				continue
			}

			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			links = append(links, feedLink{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: attrs["title"],
			})
		}
	}
}

// pickFeedLink は候補から取り込み元を1つ選ぶ。
// 優先順位: ページと同じホスト > Atom > 出現順
func pickFeedLink(links []feedLink, pageURL string) (feedLink, bool) {
	if len(links) == 0 {
		return feedLink{}, false
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if l.Kind == feedKindAtom {
			score += 10
		}
		// 同点なら先に出現したものを残す
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
