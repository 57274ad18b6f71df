package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// devJWTSecret generates (or reloads) a development JWT secret, persisted
// under data/jwt_secret so restarts don't invalidate every outstanding
// token. Production deployments are expected to set SCRIBEFLOW_JWT_SECRET
// explicitly; validate() still rejects a missing/placeholder secret if the
// generation step itself fails.
func devJWTSecret() string {
	const secretFile = "data/jwt_secret"

	if data, err := os.ReadFile(secretFile); err == nil && len(data) > 0 {
		return strings.TrimSpace(string(data))
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Printf("config: could not generate a dev jwt secret: %v", err)
		return ""
	}
	secret := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(secretFile), 0o755); err == nil {
		_ = os.WriteFile(secretFile, []byte(secret), 0o600)
		log.Println("config: generated persistent dev jwt secret at", secretFile)
	}
	return secret
}
