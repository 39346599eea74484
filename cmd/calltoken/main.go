// Package main выдаёт токен вызывающего для адреса счёта. Используется шлюзом
// аутентификации и при локальной проверке API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmeshcher/marketplace/internal/middleware"
	"github.com/mmeshcher/marketplace/internal/model"
)

type config struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

func main() {
	_ = godotenv.Load()

	cfg := config{}
	flag.StringVar(&cfg.AuthSecret, "s", "", "shared secret for caller tokens")
	flag.Parse()

	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}
	if cfg.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_SECRET must be set")
		os.Exit(1)
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: calltoken [-s secret] <0x address>")
		os.Exit(2)
	}

	id, err := model.ParseIdentity(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Println(middleware.NewAuthMiddleware(cfg.AuthSecret).Token(id))
}
