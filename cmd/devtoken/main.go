// devtoken 为本地开发签发一个身份 token，与外部身份服务的格式一致。
//
//	JWT_SECRET=... go run ./cmd/devtoken -id alice -name Alice
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	id := flag.String("id", "", "user id (required)")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}
	if *id == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := middleware.GenerateToken(secret, domain.Identity{ID: *id, Name: *name, Email: *email}, *ttl)
	if err != nil {
		logrus.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
