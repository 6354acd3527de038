package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"launchpad/auth"
	"launchpad/db"
	"launchpad/escrow"
	"launchpad/registry"
	"launchpad/sale"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	escrowRepo := escrow.NewRepository(pool, nil)

	server := &Server{
		authService:     auth.NewService(auth.NewRepository(pool), jwtSecret),
		registryService: registry.NewService(pool, registry.NewRepository(pool, nil)),
		saleService:     sale.NewService(pool, sale.NewRepository(pool, nil, escrowRepo)),
		escrowService:   escrow.NewService(pool, escrowRepo),
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("launchpad api listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
