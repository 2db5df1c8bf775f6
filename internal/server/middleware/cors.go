package middleware

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

// CORS allows browser clients from allowedOrigins to send signed requests.
// An empty list allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "Authorization", "X-API-Key",
			crypto.HeaderAddress, crypto.HeaderTimestamp, crypto.HeaderSignature,
		},
		MaxAge: 86400,
	})
	return c.Handler
}
