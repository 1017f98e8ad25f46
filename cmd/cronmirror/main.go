// Command cronmirror is an AWS Lambda that consumes the document table's
// stream and mirrors team campaign indexes into their cron job records.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/teamsync/cronjob"
	"github.com/jacentio/teamsync/internal/config"
	"github.com/jacentio/teamsync/store"
	"github.com/jacentio/teamsync/stream"
)

func main() {
	cfg, err := config.LoadMirror()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	docs := store.New(dynamodb.NewFromConfig(awsCfg), cfg.Store)
	handler := stream.NewHandler(cronjob.New(docs, logger, nil), logger)
	lambda.Start(handler.HandleTeamChanges)
}
