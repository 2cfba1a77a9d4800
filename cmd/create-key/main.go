package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/logger"
	"hookforms/backend/internal/service"
	"hookforms/backend/internal/storage/postgres"
)

// create-key 直接在配置的数据库中创建 API Key，用于首次部署时签发管理员密钥
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: create-key <name> [scopes]")
		fmt.Println("  scopes: comma separated, default \"webhooks,admin\"")
		os.Exit(1)
	}

	name := os.Args[1]
	scopes := []string{"webhooks", "admin"}
	if len(os.Args) >= 3 {
		scopes = splitScopes(os.Args[2])
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	switch cfg.Database.Type {
	case "", "memory":
		fmt.Println("create-key needs a persistent database (set HOOKFORMS_DATABASE_TYPE)")
		os.Exit(1)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys := service.NewAPIKeyService(store, logger.NewDevelopment())
	key, raw, err := keys.CreateAPIKey(ctx, name, scopes)
	if err != nil {
		fmt.Printf("Failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("API key created successfully!")
	fmt.Printf("ID:     %s\n", key.ID)
	fmt.Printf("Name:   %s\n", key.Name)
	fmt.Printf("Scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Printf("Key:    %s\n", raw)
	fmt.Println("Store this key now, it will not be shown again.")
}

func splitScopes(s string) []string {
	var scopes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}
