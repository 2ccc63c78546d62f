package phantom

import (
	"fmt"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
	"github.com/ggonzalez94/dexswap/internal/registry"
)

const (
	Cluster = "mainnet-beta"

	ConnectCallbackPath = "/phantom/callback/connect"
	SignCallbackPath    = "/phantom/callback/sign"
)

// Links builds Phantom universal links and the service URLs Phantom redirects back to.
type Links struct {
	AppURL     string
	ConnectURL string
	SignURL    string
}

func NewLinks(appURL string) Links {
	return Links{
		AppURL:     strings.TrimRight(strings.TrimSpace(appURL), "/"),
		ConnectURL: registry.PhantomConnectURL,
		SignURL:    registry.PhantomSignURL,
	}
}

func (l Links) Connect(sessionID string, dappPublicKey [KeySize]byte) string {
	q := url.Values{}
	q.Set("dapp_encryption_public_key", EncodeKey(dappPublicKey))
	q.Set("cluster", Cluster)
	q.Set("app_url", l.AppURL)
	q.Set("redirect_link", l.appURL(ConnectCallbackPath, sessionID))
	return l.ConnectURL + "?" + q.Encode()
}

// SignRequest is the encrypted body of a signTransaction link.
type SignRequest struct {
	Session     string `json:"session"`
	Transaction string `json:"transaction"`
}

func (l Links) Sign(sessionID string, dappPublicKey [KeySize]byte, nonce, payload string) string {
	q := url.Values{}
	q.Set("dapp_encryption_public_key", EncodeKey(dappPublicKey))
	q.Set("nonce", nonce)
	q.Set("redirect_link", l.appURL(SignCallbackPath, sessionID))
	q.Set("payload", payload)
	return l.SignURL + "?" + q.Encode()
}

func (l Links) appURL(path, sessionID string) string {
	return fmt.Sprintf("%s%s?%s", l.AppURL, path, url.Values{"sessionId": {sessionID}}.Encode())
}

// CallbackParams are the query parameters Phantom appends to a redirect link.
type CallbackParams struct {
	PhantomEncryptionPublicKey string
	Nonce                      string
	Data                       string
	ErrorCode                  string
	ErrorMessage               string
}

// ParseCallback reads CallbackParams from a redirect query.
func ParseCallback(q url.Values) CallbackParams {
	return CallbackParams{
		PhantomEncryptionPublicKey: q.Get("phantom_encryption_public_key"),
		Nonce:                      q.Get("nonce"),
		Data:                       q.Get("data"),
		ErrorCode:                  q.Get("errorCode"),
		ErrorMessage:               q.Get("errorMessage"),
	}
}

// Rejection returns WalletRejected when the wallet reported an error instead of a payload.
func (p CallbackParams) Rejection(fallback string) error {
	code := strings.TrimSpace(p.ErrorCode)
	msg := strings.TrimSpace(p.ErrorMessage)
	if code == "" && msg == "" {
		return nil
	}
	details := fallback
	for _, part := range []string{code, msg} {
		if part != "" {
			details += ": " + part
		}
	}
	return clierr.New(clierr.CodeWalletRejected, details)
}

// Require reports a missing callback parameter.
func Require(value, name string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", clierr.New(clierr.CodeInvalidWalletResponse, fmt.Sprintf("phantom callback is missing %q", name))
	}
	return value, nil
}

// ConnectPayload is the decrypted body of a connect callback.
type ConnectPayload struct {
	PublicKey string `json:"public_key"`
	Session   string `json:"session"`
}

// SignedPayload is the decrypted body of a sign callback.
type SignedPayload struct {
	Transaction string `json:"transaction"`
}
