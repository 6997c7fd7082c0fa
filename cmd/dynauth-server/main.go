package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/dynauth"
	"github.com/oarkflow/dynauth/logger"
	"github.com/oarkflow/dynauth/stores"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	configFile := os.Args[2]

	cfg, err := dynauth.NewConfigLoader().LoadFile(configFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "init":
		handleInit(cfg)
	case "serve":
		handleServe(cfg)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("dynauth-server - dynamic authorization engine host")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dynauth-server init <config>   - Provision the store and write the bootstrap seed")
	fmt.Println("  dynauth-server serve <config>  - Serve HTTP with the authorization middleware")
	fmt.Println()
	fmt.Println("Backend selection via DYNAUTH_BACKEND: memory | sqlite | redis | dynamodb")
}

func handleInit(cfg *dynauth.Config) {
	store, err := openStore()
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	if err := store.Init(context.Background(), cfg.Bootstrap); err != nil {
		fmt.Printf("Error initializing store: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Store initialized")
}

func handleServe(cfg *dynauth.Config) {
	log := logger.NewPhusluLogger()

	store, err := openStore()
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	// Provisioning ran out-of-band via the init command.
	if err := store.AssumeProvisioned(context.Background()); err != nil {
		fmt.Printf("Error checking store: %v\n", err)
		os.Exit(1)
	}

	resolver := dynauth.NewStoreResolver(store, store)
	resolver.SetLogger(log)
	if err := cfg.ConfigureResolver(resolver); err != nil {
		fmt.Printf("Error configuring resolver: %v\n", err)
		os.Exit(1)
	}

	service := dynauth.NewService(cfg.BuildRegistry(), resolver,
		dynauth.WithStores(store, store),
		dynauth.WithLogger(log),
	)

	authorize := dynauth.Middleware(&dynauth.MiddlewareOptions{
		Service: service,
		Limiter: cfg.BuildLimiter(),
		Logger:  log,
	})

	e := echo.New()
	e.Use(identityMiddleware)
	e.Use(echo.WrapMiddleware(authorize))

	e.GET("/login", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.Any("/*", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "authorized"})
	})

	addr := os.Getenv("DYNAUTH_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("listening", "addr", addr, "backend", backendName())
	if err := e.Start(addr); err != nil {
		fmt.Printf("Server stopped: %v\n", err)
		os.Exit(1)
	}
}

// identityMiddleware stands in for the external identity collaborator: it
// trusts X-User-Id / X-User-Roles headers. Replace it with a real session
// layer in production.
func identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get("X-User-Id")
		if id != "" {
			var roles []string
			if raw := c.Request().Header.Get("X-User-Roles"); raw != "" {
				roles = strings.Split(raw, ",")
			}
			user := &dynauth.AuthenticatedUser{ID: id, Roles: roles}
			ctx := dynauth.ContextWithUser(c.Request().Context(), user)
			c.SetRequest(c.Request().WithContext(ctx))
		}
		return next(c)
	}
}

func backendName() string {
	backend := strings.ToLower(os.Getenv("DYNAUTH_BACKEND"))
	if backend == "" {
		backend = "memory"
	}
	return backend
}

func openStore() (*stores.Store, error) {
	log := logger.NewPhusluLogger()
	switch backendName() {
	case "memory":
		return stores.New(stores.NewMemoryKV(), stores.WithLogger(log)), nil
	case "sqlite":
		path := os.Getenv("DYNAUTH_SQLITE_PATH")
		if path == "" {
			path = "dynauth.db"
		}
		sqlDB, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db := squealx.NewDb(sqlDB, "sqlite", "dynauth")
		if err := stores.Migrate(db); err != nil {
			return nil, err
		}
		return stores.New(stores.NewSQLKV(db), stores.WithLogger(log)), nil
	case "redis":
		addr := os.Getenv("DYNAUTH_REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		return stores.New(stores.NewRedisKV(client), stores.WithLogger(log)), nil
	case "dynamodb":
		table := os.Getenv("DYNAUTH_DYNAMO_TABLE")
		if table == "" {
			return nil, fmt.Errorf("DYNAUTH_DYNAMO_TABLE is required for the dynamodb backend")
		}
		awsCfg := aws.NewConfig()
		if endpoint := os.Getenv("DYNAUTH_DYNAMO_ENDPOINT"); endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(endpoint)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		return stores.New(stores.NewDynamoKV(dynamodb.New(sess), table), stores.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backendName())
	}
}
