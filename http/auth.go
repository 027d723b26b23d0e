package http

import (
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"golang.org/x/net/websocket"
)

// ErrTypeMissingAppKey is the error type returned when a request does not
// carry a user token with an app key.
const ErrTypeMissingAppKey = "missing_app_key"

// RequireAppKey is a websocket handshake that refuses the clients whose user
// token does not carry an app key.
func RequireAppKey(c *websocket.Config, r *http.Request) error {
	if err := checkAppKey(r); err != nil {
		logs.WithClientID(r.Header.Get(httpcmn.HeaderPosemeshClientID)).Warn(err)
		return err
	}
	return nil
}

// RequireAppKeyHandler responds 401 to the requests whose user token does
// not carry an app key.
func RequireAppKeyHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := checkAppKey(r); err != nil {
			logs.WithClientID(r.Header.Get(httpcmn.HeaderPosemeshClientID)).Warn(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func checkAppKey(r *http.Request) error {
	token := httpcmn.GetUserTokenFromHTTPRequest(r)
	if token == "" {
		return errors.New("missing user token").
			WithType(ErrTypeMissingAppKey).
			WithTag("path", r.URL.Path)
	}

	if httpcmn.GetAppKeyFromHagallUserToken(token) == "" {
		return errors.New("user token has no app key").
			WithType(ErrTypeMissingAppKey).
			WithTag("path", r.URL.Path)
	}
	return nil
}
