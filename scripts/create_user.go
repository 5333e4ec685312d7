package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/matthewgall/binder/internal/config"
	"github.com/matthewgall/binder/internal/db"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	email := flag.String("email", "", "Email address for the new user")
	displayName := flag.String("name", "", "Display name for the new user")
	password := flag.String("password", "", "Password for the new user")
	passwordStdin := flag.Bool("password-stdin", false, "Read password from stdin")
	flag.Parse()

	if db.NormalizeEmail(*email) == "" {
		log.Fatal("email is required")
	}

	if *passwordStdin {
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			log.Fatalf("reading password from stdin: %v", err)
		}
		*password = strings.TrimSpace(input)
	}

	if *password == "" {
		log.Fatal("password is required")
	}

	name := strings.TrimSpace(*displayName)
	if name == "" {
		name = strings.SplitN(db.NormalizeEmail(*email), "@", 2)[0]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	store, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer store.Close()

	cost := cfg.Auth.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), cost)
	if err != nil {
		log.Fatalf("hashing password: %v", err)
	}

	id, err := store.CreateUser(context.Background(), *email, name, string(hash))
	if err != nil {
		if errors.Is(err, db.ErrUserExists) {
			log.Fatalf("user already exists: %s", db.NormalizeEmail(*email))
		}
		log.Fatalf("creating user: %v", err)
	}

	fmt.Printf("Created user %d: %s\n", id, db.NormalizeEmail(*email))
}
