package pubsub_test

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/polarisops/gcp-common/pubsub"
	"github.com/polarisops/gcp-common/pubsub/driver/google"
)

func ExampleClient_google() {
	ctx := context.Background()
	server := pstest.NewServer()
	defer server.Close()

	conn, err := grpc.DialContext(ctx, server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	broker, err := google.New(ctx, google.Config{
		ProjectID: "test-project",
		Options:   []option.ClientOption{option.WithGRPCConn(conn)},
	})
	if err != nil {
		panic(err)
	}

	client, err := pubsub.New(ctx, broker)
	if err != nil {
		panic(err)
	}

	if err := client.CreateTopic(ctx, "orders-topic"); err != nil {
		panic(err)
	}
	if err := client.CreateSubscription(ctx, "orders-sub", "orders-topic"); err != nil {
		panic(err)
	}

	if _, err := client.Publish(ctx, "orders-topic", []byte("order 42")); err != nil {
		panic(err)
	}

	msgs, err := client.Pull(ctx, "orders-sub", 10)
	if err != nil {
		panic(err)
	}
	for _, m := range msgs {
		fmt.Println("received", string(m.Data))
	}
	if err := client.Acknowledge(ctx, "orders-sub", []string{msgs[0].AckID}); err != nil {
		panic(err)
	}

	if err := client.Shutdown(ctx); err != nil {
		panic(err)
	}
	// Output: received order 42
}

func ExampleClient_subscribe() {
	ctx := context.Background()
	server := pstest.NewServer()
	defer server.Close()

	conn, err := grpc.DialContext(ctx, server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	broker, err := google.New(ctx, google.Config{
		ProjectID: "test-project",
		Options:   []option.ClientOption{option.WithGRPCConn(conn)},
	})
	if err != nil {
		panic(err)
	}

	client, err := pubsub.New(ctx, broker)
	if err != nil {
		panic(err)
	}

	if err := client.CreateTopic(ctx, "orders-topic"); err != nil {
		panic(err)
	}
	if err := client.CreateSubscription(ctx, "orders-sub", "orders-topic"); err != nil {
		panic(err)
	}

	done := make(chan struct{})
	_, err = client.Subscribe("orders-sub", pubsub.HandlerFunc(func(ctx context.Context, msg *pubsub.Message) error {
		fmt.Println("received", string(msg.Data()))
		close(done)
		return nil
	}))
	if err != nil {
		panic(err)
	}

	if _, err := client.Publish(ctx, "orders-topic", []byte("order 42")); err != nil {
		panic(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		panic("timeout waiting for message")
	}

	if err := client.Shutdown(ctx); err != nil {
		panic(err)
	}
	// Output: received order 42
}
