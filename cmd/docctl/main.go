package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/storage/db"
	"docchat-backend/internal/shared/telemetry"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docctl",
		Usage: "Operator commands for the document chat backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			telemetry.SetDebug(c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "reconcile",
				Usage:  "Re-enqueue documents stuck in uploaded once",
				Action: reconcileCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "stale-after",
						Usage: "Only pick documents untouched for this long (defaults to STALE_UPLOAD_AFTER)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print a document's pipeline status",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "Owning user id", Required: true},
					&cli.StringFlag{Name: "document", Usage: "Document id", Required: true},
				},
			},
			{
				Name:   "token",
				Usage:  "Mint a bearer token for a user",
				Action: tokenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "Subject user id", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 24 * time.Hour},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: migrateCommand,
			},
		},
	}
}

func buildApp(c *cli.Context) (*bootstrap.App, error) {
	cfg := config.Load()
	if d := c.Duration("stale-after"); d > 0 {
		cfg.StaleUploadAfter = d
	}
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap build: %w", err)
	}
	return app, nil
}

func reconcileCommand(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Reconcile.Sweep(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "scanned=%d requeued=%d failed=%d\n", res.Scanned, res.Requeued, res.Failed)
	return nil
}

type statusView struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	FileName    string    `json:"fileName"`
	Status      string    `json:"status"`
	RetryCount  int       `json:"retryCount"`
	PageCount   int       `json:"pageCount,omitempty"`
	ErrorReason string    `json:"errorReason,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func statusCommand(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	doc, err := app.DocumentsService.Get(c.Context, c.String("user"), c.String("document"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(statusView{
		ID:          doc.ID,
		ProjectID:   doc.ProjectID,
		FileName:    doc.FileName,
		Status:      string(doc.Status),
		RetryCount:  doc.RetryCount,
		PageCount:   doc.PageCount,
		ErrorReason: doc.ErrorReason,
		UpdatedAt:   doc.UpdatedAt,
	})
}

func tokenCommand(c *cli.Context) error {
	cfg := config.Load()
	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.DevLike())
	if err != nil {
		return err
	}
	user := strings.TrimSpace(c.String("user"))
	if user == "" {
		return fmt.Errorf("user is required")
	}
	now := time.Now()
	token, err := signer.Sign(auth.Claims{
		Sub: user,
		Iat: now.Unix(),
		Exp: now.Add(c.Duration("ttl")).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func migrateCommand(c *cli.Context) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return db.ErrNoDatabase
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return err
	}
	version, err := db.MigrationVersion(ctx, sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema at version %d\n", version)
	return nil
}
