package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"feedback-insights/internal/app"
	"feedback-insights/internal/config"
	"feedback-insights/internal/models"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func environmentFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "environment",
		Aliases:  []string{"e"},
		Usage:    "Environment ID",
		Required: true,
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "insightctl",
		Usage: "Operate the feedback insight store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db-driver",
				Usage: "Override DB_DRIVER (postgres or sqlite)",
			},
			&cli.StringFlag{
				Name:  "sqlite-path",
				Usage: "Override SQLITE_PATH",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: migrateCommand,
			},
			{
				Name:   "resolve",
				Usage:  "Attach a document to the nearest insight, creating one when none is close enough",
				Action: resolveCommand,
				Flags: []cli.Flag{
					environmentFlag(),
					&cli.StringFlag{
						Name:     "document",
						Aliases:  []string{"d"},
						Usage:    "Document ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "title",
						Aliases:  []string{"t"},
						Usage:    "Insight title",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Insight description",
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "Insight category (featureRequest, complaint, praise, other)",
						Value: string(models.CategoryOther),
					},
				},
			},
			{
				Name:   "reprocess",
				Usage:  "Run extraction again for failed and stale pending documents",
				Action: reprocessCommand,
				Flags: []cli.Flag{
					environmentFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of documents to reprocess",
						Value: 100,
					},
				},
			},
			{
				Name:   "insights",
				Usage:  "List the insights of an environment",
				Action: insightsCommand,
				Flags: []cli.Flag{
					environmentFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Page size",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Page offset",
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if driver := c.String("db-driver"); driver != "" {
		cfg.DBDriver = driver
	}
	if path := c.String("sqlite-path"); path != "" {
		cfg.SQLitePath = path
	}

	return cfg, cfg.Validate()
}

func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCommand(c *cli.Context) error {
	// app.New migrates while opening the database.
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(c.App.ErrWriter, "Schema is up to date")
	return nil
}

func resolveCommand(c *cli.Context) error {
	ctx := context.Background()

	category := models.InsightCategory(c.String("category"))
	if !category.Valid() {
		return fmt.Errorf("invalid category %q", category)
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	environmentID := c.String("environment")
	doc, err := a.Documents.GetByID(ctx, c.String("document"))
	if err != nil {
		return err
	}
	if doc.EnvironmentID != environmentID {
		return fmt.Errorf("document %s does not belong to environment %s", doc.ID, environmentID)
	}

	res, err := a.Resolver.ResolveInsight(ctx, environmentID, doc.ID, models.Candidate{
		Title:       c.String("title"),
		Description: c.String("description"),
		Category:    category,
	})
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	return printJSON(c, res)
}

func reprocessCommand(c *cli.Context) error {
	ctx := context.Background()

	limit := c.Int("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	environmentID := c.String("environment")
	docs, err := a.Processor.Retryable(ctx, environmentID, limit)
	if err != nil {
		return err
	}

	// Processed inline so the command exits only once every document is settled.
	var ok, failedAgain int
	for _, doc := range docs {
		if err := a.Documents.MarkPending(ctx, doc.ID); err != nil {
			return err
		}
		if _, err := a.Processor.ProcessDocument(ctx, doc.ID); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "document %s: %v\n", doc.ID, err)
			failedAgain++
			continue
		}
		ok++
	}

	fmt.Fprintf(c.App.ErrWriter, "Reprocessed %d documents, %d failed\n", ok, failedAgain)
	return nil
}

func insightsCommand(c *cli.Context) error {
	ctx := context.Background()

	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	insights, err := a.Queries.ListInsights(ctx, c.String("environment"), c.Int("limit"), c.Int("offset"))
	if err != nil {
		return err
	}

	return printJSON(c, insights)
}
