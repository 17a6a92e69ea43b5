package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
)

func TestIsProxyWrapped(t *testing.T) {
	tests := []struct {
		link string
		want bool
	}{
		{"https://webvpn.bit.edu.cn/p/abc", true},
		{"https://WebVPN.bit.edu.cn/p/abc", true},
		{"https://webvpn.bit.edu.cn/", false},
		{"https://webvpn.bit.edu.cn", false},
		{"https://webvpn.bit.edu.cn?x=1", false},
		{"https://lib.bit.edu.cn/p/abc", false},
		{"https://my-webvpn.bit.edu.cn/p/abc", false},
		{"mailto:lib@bit.edu.cn", false},
		{"javascript:void(0)", false},
		{"file:///webvpn.bit.edu.cn/p", false},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			got, err := IsProxyWrapped(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := IsProxyWrapped("not a url")
	assert.True(t, errors.Is(err, ErrNotAbsoluteURL))
}

func TestNoticeRewriterKeepsIDInSync(t *testing.T) {
	codec := testCodec{}
	nr := NewNoticeRewriter(codec)

	link := "https://webvpn.bit.edu.cn/p/abc"
	result := &notice.FetchResult{
		Source:  "lib",
		Notices: []*notice.Notice{newNotice(link, link)},
	}

	require.NoError(t, nr.Normalize(result))

	want, err := codec.DecryptURL(link)
	require.NoError(t, err)
	n := result.Notices[0]
	assert.Equal(t, want, n.Link)
	assert.Equal(t, n.ID, n.Link)
}

func TestNoticeRewriterOnlyLinkWhenIDDiffers(t *testing.T) {
	codec := testCodec{}
	nr := NewNoticeRewriter(codec)

	wrapped, _ := codec.EncryptURL("https://lib.bit.edu.cn/news/1.html")
	result := &notice.FetchResult{
		Notices: []*notice.Notice{newNotice("lib-news-1", wrapped)},
	}

	require.NoError(t, nr.Normalize(result))
	assert.Equal(t, "lib-news-1", result.Notices[0].ID)
	assert.Equal(t, "https://lib.bit.edu.cn/news/1.html", result.Notices[0].Link)
}

func TestNoticeRewriterLeavesOthersUntouched(t *testing.T) {
	nr := NewNoticeRewriter(testCodec{})

	original := []notice.Notice{
		{ID: "https://lib.bit.edu.cn/p/abc", Link: "https://lib.bit.edu.cn/p/abc", Title: "plain"},
		{ID: "https://webvpn.bit.edu.cn/", Link: "https://webvpn.bit.edu.cn/", Title: "portal root"},
		{ID: "x", Link: "https://webvpn.bit.edu.cn", Title: "portal no path"},
		{ID: "mail", Link: "mailto:lib@bit.edu.cn", Title: "no host"},
	}
	result := &notice.FetchResult{}
	for i := range original {
		n := original[i]
		result.Notices = append(result.Notices, &n)
	}

	require.NoError(t, nr.Normalize(result))
	for i := range original {
		assert.Equal(t, original[i], *result.Notices[i])
	}
}

func TestNoticeRewriterIsolatesBadLinks(t *testing.T) {
	nr := NewNoticeRewriter(testCodec{})

	good := "https://webvpn.bit.edu.cn/p/good"
	result := &notice.FetchResult{
		Source: "lib",
		Notices: []*notice.Notice{
			newNotice("bad", "::::"),
			nil,
			newNotice(good, good),
			newNotice("foreign", "https://webvpn.other.edu/p/x"), // testCodec cannot decrypt it
		},
	}

	err := nr.Normalize(result)
	require.Error(t, err)
	assert.True(t, IsRewriteError(err))

	assert.Equal(t, "::::", result.Notices[0].Link)
	assert.Equal(t, "https://origin.bit.edu.cn/p/good", result.Notices[2].Link)
	assert.Equal(t, result.Notices[2].ID, result.Notices[2].Link)
	assert.Equal(t, "https://webvpn.other.edu/p/x", result.Notices[3].Link)
	assert.Equal(t, "foreign", result.Notices[3].ID)

	var proxyErr *Error
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, ErrCodeNoticeLinkInvalid, proxyErr.Code)
	assert.Contains(t, err.Error(), ErrCodeNoticeLinkDecrypt)
}

func TestNoticeRewriterDecryptFailure(t *testing.T) {
	nr := NewNoticeRewriter(failingCodec{})

	link := "https://webvpn.bit.edu.cn/p/abc"
	result := &notice.FetchResult{Notices: []*notice.Notice{newNotice(link, link)}}

	err := nr.Normalize(result)
	require.Error(t, err)
	assert.Equal(t, link, result.Notices[0].ID)
	assert.Equal(t, link, result.Notices[0].Link)
}

func TestNoticeRewriterNilResult(t *testing.T) {
	nr := NewNoticeRewriter(testCodec{})
	assert.NoError(t, nr.Normalize(nil))
	assert.NoError(t, nr.Normalize(&notice.FetchResult{}))
}
