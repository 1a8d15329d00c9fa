// cmd/admintoken issues an access token for an operator, or revokes one by
// its jti. There is no login flow; tokens are minted out of band.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"netbill-service/internal/config"
	"netbill-service/internal/db"
	"netbill-service/internal/middleware"
	"netbill-service/internal/pkg/jwt"
	"netbill-service/internal/pkg/session"

	"github.com/joho/godotenv"
)

func main() {
	id := flag.Int64("id", 1, "operator identity id")
	role := flag.String("role", middleware.RoleOperator, "operator, admin or super_admin")
	device := flag.String("device", "cli", "device label stored in the token")
	revoke := flag.String("revoke", "", "revoke the token with this jti instead of issuing one")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	if *revoke != "" {
		if err := revokeToken(cfg, *revoke); err != nil {
			log.Fatalf("failed to revoke %s: %v", *revoke, err)
		}
		fmt.Fprintf(os.Stderr, "revoked jti=%s\n", *revoke)
		return
	}

	r := strings.ToLower(*role)
	switch r {
	case middleware.RoleOperator, middleware.RoleAdmin, middleware.RoleSuperAdmin:
	default:
		fmt.Fprintf(os.Stderr, "invalid -role %q\n", *role)
		os.Exit(2)
	}

	manager, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		log.Fatalf("failed to load keys: %v", err)
	}

	token, jti, err := manager.Generator.GenerateAccessToken(*id, []string{r}, *device)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "jti=%s ttl=%s\n", jti, cfg.JWT.TTL)
	fmt.Println(token)
}

func revokeToken(cfg config.AppConfig, jti string) error {
	client, err := db.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the entry only needs to outlive the longest token that could carry this jti
	return session.NewRevocations(client).Revoke(ctx, jti, cfg.JWT.TTL)
}
