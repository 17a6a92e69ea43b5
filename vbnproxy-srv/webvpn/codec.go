// Package webvpn is a client for WRD WebVPN portals such as webvpn.bit.edu.cn.
package webvpn

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultKey is the key and IV the WRD portals ship with.
const DefaultKey = "wrdvpnisthebest!"

var (
	ErrForeignURL   = errors.New("URL does not belong to this WebVPN portal")
	ErrMalformedURL = errors.New("malformed WebVPN URL")
)

// Codec maps canonical URLs to portal URLs and back:
//
//	https://lib.bit.edu.cn:8443/a?b  <->  https://webvpn.bit.edu.cn/https-8443/<hex iv><hex AES-CFB(host)>/a?b
type Codec struct {
	portal *url.URL
	block  cipher.Block
	iv     []byte
}

// NewCodec creates a codec for the portal at baseURL. An empty key means DefaultKey.
// The key doubles as IV and must be 16, 24 or 32 bytes long.
func NewCodec(baseURL, key string) (*Codec, error) {
	portal, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal URL: %w", err)
	}
	if portal.Scheme == "" || portal.Host == "" {
		return nil, fmt.Errorf("portal URL must be absolute: %q", baseURL)
	}
	portal.Path = strings.TrimSuffix(portal.Path, "/")
	portal.RawPath = strings.TrimSuffix(portal.RawPath, "/")
	portal.RawQuery, portal.Fragment, portal.ForceQuery = "", "", false

	if key == "" {
		key = DefaultKey
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("invalid WebVPN key: %w", err)
	}

	return &Codec{
		portal: portal,
		block:  block,
		iv:     []byte(key)[:aes.BlockSize],
	}, nil
}

// Portal returns the portal base URL.
func (c *Codec) Portal() string {
	return c.portal.String()
}

// EncryptURL wraps an absolute http(s) or ws(s) URL.
func (c *Codec) EncryptURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrMalformedURL, raw)
	}

	segment := strings.ToLower(u.Scheme)
	if port := u.Port(); port != "" {
		segment += "-" + port
	}

	var b strings.Builder
	b.WriteString(c.portal.String())
	b.WriteByte('/')
	b.WriteString(segment)
	b.WriteByte('/')
	b.WriteString(c.encryptHost(u.Hostname()))
	b.WriteString(u.EscapedPath())
	if u.ForceQuery || u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String(), nil
}

// DecryptURL reverses EncryptURL.
func (c *Codec) DecryptURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(u.Host, c.portal.Host) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, u.Host)
	}

	rest, ok := strings.CutPrefix(u.EscapedPath(), c.portal.EscapedPath()+"/")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}
	segment, rest, _ := strings.Cut(rest, "/")
	hexHost, path, hasPath := strings.Cut(rest, "/")

	scheme, port, _ := strings.Cut(segment, "-")
	if scheme == "" {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrMalformedURL, raw)
	}
	host, err := c.decryptHost(hexHost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	if hasPath {
		b.WriteByte('/')
		b.WriteString(path)
	}
	if u.ForceQuery || u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String(), nil
}

// encryptHost returns hex(iv) followed by the CFB-128 ciphertext of host.
// The portals pad the plaintext to a block boundary and cut the ciphertext
// back to the host length, which is what the stream mode yields directly.
func (c *Codec) encryptHost(host string) string {
	out := make([]byte, len(host))
	cipher.NewCFBEncrypter(c.block, c.iv).XORKeyStream(out, []byte(host))
	return hex.EncodeToString(c.iv) + hex.EncodeToString(out)
}

func (c *Codec) decryptHost(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	if len(raw) <= aes.BlockSize {
		return "", errors.New("encrypted host too short")
	}

	iv, data := raw[:aes.BlockSize], raw[aes.BlockSize:]
	out := make([]byte, len(data))
	cipher.NewCFBDecrypter(c.block, iv).XORKeyStream(out, data)
	return string(out), nil
}
