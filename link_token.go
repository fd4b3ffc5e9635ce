package admission

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/url"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// EmailApprovalToken is the pair of sealed values carried by a verification
// link: E seals the identity and T the decimal unix seconds it was issued at.
type EmailApprovalToken struct {
	E string `json:"e"`
	T string `json:"t"`
}

// LinkSealer seals single values for use in URLs with AES-GCM.
type LinkSealer struct {
	aead cipher.AEAD
}

// NewLinkSealer builds a sealer from an AES key of 16, 24 or 32 bytes. Any
// other key length is stretched to 32 bytes with SHA-256.
func NewLinkSealer(key []byte) (*LinkSealer, error) {
	if len(key) == 0 {
		return nil, goerrors.New("link sealer key is empty", goerrors.CategoryValidation)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		sum := sha256.Sum256(key)
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create link cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create link gcm")
	}
	return &LinkSealer{aead: aead}, nil
}

// Seal encrypts value and returns nonce || ciphertext in URL safe base64.
func (s *LinkSealer) Seal(value string) (string, error) {
	if s == nil || s.aead == nil {
		return "", goerrors.New("link sealer is not configured", goerrors.CategoryInternal)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read nonce")
	}

	payload := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Open decrypts a sealed value. Every failure is reported as
// ErrInvalidApprovalLink.
func (s *LinkSealer) Open(sealed string) (string, error) {
	if s == nil || s.aead == nil {
		return "", goerrors.New("link sealer is not configured", goerrors.CategoryInternal)
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(sealed, "="))
	if err != nil {
		return "", wrapAs(err, ErrInvalidApprovalLink, map[string]any{"stage": "decode"})
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", withDetails(ErrInvalidApprovalLink, map[string]any{"stage": "length"})
	}

	plain, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", wrapAs(err, ErrInvalidApprovalLink, map[string]any{"stage": "decrypt"})
	}
	return string(plain), nil
}

// IssueApprovalToken seals id and issuedAt into a token.
func (s *LinkSealer) IssueApprovalToken(id string, issuedAt int64) (EmailApprovalToken, error) {
	e, err := s.Seal(id)
	if err != nil {
		return EmailApprovalToken{}, err
	}
	t, err := s.Seal(strconv.FormatInt(issuedAt, 10))
	if err != nil {
		return EmailApprovalToken{}, err
	}
	return EmailApprovalToken{E: e, T: t}, nil
}

// OpenApprovalToken recovers the identity and issue time of a token. A time
// value that is not a decimal number reads as zero.
func (s *LinkSealer) OpenApprovalToken(token EmailApprovalToken) (string, int64, error) {
	if token.E == "" || token.T == "" {
		return "", 0, withDetails(ErrInvalidApprovalLink, map[string]any{"stage": "missing"})
	}

	id, err := s.Open(token.E)
	if err != nil {
		return "", 0, err
	}

	raw, err := s.Open(token.T)
	if err != nil {
		return "", 0, err
	}

	issuedAt, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		issuedAt = 0
	}
	return id, issuedAt, nil
}

// ActionURL builds the link sent in emails: base followed by the base64
// encoded target with its query.
func ActionURL(base, target string, query url.Values) string {
	full := target
	if encoded := encodeQuery(query); encoded != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		full += sep + encoded
	}
	return base + base64.StdEncoding.EncodeToString([]byte(full))
}

// DecodeActionURL reverses ActionURL given the same base.
func DecodeActionURL(base, link string) (*url.URL, error) {
	if !strings.HasPrefix(link, base) {
		return nil, withDetails(ErrInvalidApprovalLink, map[string]any{"stage": "base"})
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link, base))
	if err != nil {
		return nil, wrapAs(err, ErrInvalidApprovalLink, map[string]any{"stage": "decode"})
	}
	u, err := url.Parse(string(raw))
	if err != nil {
		return nil, wrapAs(err, ErrInvalidApprovalLink, map[string]any{"stage": "parse"})
	}
	return u, nil
}

// encodeQuery keeps the order e, t, bgc, manage used by the links.
func encodeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	order := []string{"e", "t", "bgc", "manage"}
	parts := make([]string, 0, len(query))
	seen := map[string]bool{}
	for _, k := range order {
		seen[k] = true
		if v := query.Get(k); v != "" {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	rest := url.Values{}
	for k, vs := range query {
		if !seen[k] {
			rest[k] = vs
		}
	}
	if encoded := rest.Encode(); encoded != "" {
		parts = append(parts, encoded)
	}
	return strings.Join(parts, "&")
}
