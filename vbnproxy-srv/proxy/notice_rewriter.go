package proxy

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
)

// NoticeRewriter turns WebVPN-wrapped notice links back into canonical URLs.
type NoticeRewriter struct {
	codec URLCodec
}

// NewNoticeRewriter creates a NoticeRewriter using codec for decryption.
func NewNoticeRewriter(codec URLCodec) *NoticeRewriter {
	return &NoticeRewriter{codec: codec}
}

// IsProxyWrapped reports whether link points at a WebVPN host with a path
// beyond "/". The bare portal page is not a wrapped resource, and neither is
// an absolute URL without a host such as mailto:. Relative links are an error.
func IsProxyWrapped(link string) (bool, error) {
	u, err := url.Parse(link)
	if err != nil {
		return false, err
	}
	if u.Scheme == "" {
		return false, ErrNotAbsoluteURL
	}
	return u.Host != "" && hasProxyHost(u) && len(u.EscapedPath()) > 1, nil
}

// Normalize implements ResultInterceptor. It rewrites result in place.
//
// When a notice's ID equals its Link, both are replaced so they stay equal;
// otherwise only Link changes. A link that cannot be parsed or decrypted is
// left alone and reported in the returned error; the other notices are
// still processed.
func (nr *NoticeRewriter) Normalize(result *notice.FetchResult) error {
	if result == nil {
		return nil
	}

	var errs []error
	for i, n := range result.Notices {
		if n == nil {
			continue
		}

		wrapped, err := IsProxyWrapped(n.Link)
		if err != nil {
			errs = append(errs, nr.skip(result.Source, i, n,
				NewProxyError(ErrCodeNoticeLinkInvalid, fmt.Sprintf("notice %d link %q", i, n.Link), err)))
			continue
		}
		if !wrapped {
			continue
		}

		decrypted, err := nr.codec.DecryptURL(n.Link)
		if err != nil {
			errs = append(errs, nr.skip(result.Source, i, n,
				NewProxyError(ErrCodeNoticeLinkDecrypt, fmt.Sprintf("notice %d link %q", i, n.Link), err)))
			continue
		}

		if n.ID == n.Link {
			n.ID = decrypted
		}
		n.Link = decrypted
	}

	return errors.Join(errs...)
}

func (nr *NoticeRewriter) skip(source string, i int, n *notice.Notice, err error) error {
	log.Warn("Leaving notice %d (%s) of %s unchanged: %v", i, n.ID, source, err)
	return err
}
