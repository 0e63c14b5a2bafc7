package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"

	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/container"
)

var adapter *chiadapter.ChiLambda

func init() {
	c, err := container.New(context.Background())
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to initialize container")
	}

	mux := chi.NewRouter()
	mux.Mount("/", c.Router())
	adapter = chiadapter.New(mux)
}

func handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return adapter.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(handler)
}
