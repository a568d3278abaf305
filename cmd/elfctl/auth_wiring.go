package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/transport/auth"
)

// buildAuthenticator resolves the auth.Authenticator serve wires into
// httpapi.Server, honoring security.auth_mode (spec §6). AuthMode values
// other than "bearer" return a nil Authenticator, which
// httpapi.AuthMiddleware treats as "auth disabled" per its own doc comment.
//
// Two bearer credential sources are supported, mirroring the two
// Authenticator implementations in internal/transport/auth:
//   - ELF_AUTH_JWT_SECRET set: tokens are HS256 JWTs (JWTAuthenticator).
//   - ELF_AUTH_STATIC_TOKENS set: a ";"-separated
//     "token=tenant/project/agent[/role[/read_profile]]" table
//     (StaticTableAuthenticator), the literal static-key-table contract
//     spec §6 describes.
//
// Setting neither while auth_mode is "bearer" is a startup misconfiguration,
// fatal the same way the teacher's main.go treats a missing DATABASE_URL.
func buildAuthenticator(cfg *config.Config) auth.Authenticator {
	if cfg.Security.AuthMode != "bearer" {
		return nil
	}

	if secret := os.Getenv("ELF_AUTH_JWT_SECRET"); secret != "" {
		return auth.JWTAuthenticator{Secret: secret}
	}

	if raw := os.Getenv("ELF_AUTH_STATIC_TOKENS"); raw != "" {
		table, err := parseStaticTokens(raw)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid ELF_AUTH_STATIC_TOKENS")
		}
		return table
	}

	log.Fatal().Msg("security.auth_mode is \"bearer\" but neither ELF_AUTH_JWT_SECRET nor ELF_AUTH_STATIC_TOKENS is set")
	return nil
}

func parseStaticTokens(raw string) (auth.StaticTableAuthenticator, error) {
	table := make(auth.StaticTableAuthenticator)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("entry %q is missing \"=\"", entry)
		}
		token := strings.TrimSpace(parts[0])
		fields := strings.Split(parts[1], "/")
		if len(fields) < 3 {
			return nil, fmt.Errorf("entry %q needs at least tenant/project/agent", entry)
		}
		p := auth.Principal{TenantID: fields[0], ProjectID: fields[1], AgentID: fields[2]}
		if len(fields) > 3 {
			p.Role = fields[3]
		}
		if len(fields) > 4 {
			p.ReadProfile = domain.ReadProfile(fields[4])
		}
		table[token] = p
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("ELF_AUTH_STATIC_TOKENS was set but produced no entries")
	}
	return table, nil
}
