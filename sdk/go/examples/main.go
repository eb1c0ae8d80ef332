package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	"OpenMCP-Wallet/internal/api"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/wallet/injected"
	"OpenMCP-Wallet/internal/wallet/probe"
	"OpenMCP-Wallet/pkg/logger"
	"OpenMCP-Wallet/sdk/go/openmcp"
)

func main() {
	// 进程内启动一个带开发钱包的 walletd，演示 SDK 的完整调用流程。
	env := injected.NewEnvironment()
	env.Inject(injected.DefaultSlot, injected.New([]byte{0x02, 0xca, 0xfe}, injected.Always(injected.Approve)))

	orchestrator := adapter.New(probe.New(env.Lookup(injected.DefaultSlot)), adapter.WithLogger(logger.Discard()))
	if err := orchestrator.Init(context.Background(), adapter.InitOptions{}); err != nil {
		panic(err)
	}
	history := relay.NewMemorySink(20)
	lifecycle := relay.New(orchestrator.Name(), orchestrator.Events(), []relay.Sink{history})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = lifecycle.Run(ctx) }()
	defer lifecycle.Close()

	srv := httptest.NewServer(api.NewServer(":0", orchestrator, api.WithHistory(history)).Handler())
	defer srv.Close()

	client, err := openmcp.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	status, err := client.Connect(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("connected session %s identity %s\n", status.SessionID, status.Identity)

	if _, err := client.Connect(ctx); openmcp.IsCode(err, "WALLET_ALREADY_CONNECTED") {
		fmt.Println("second connect rejected: already connected")
	}

	status, err = client.Disconnect(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("status after disconnect: %s\n", status.Status)

	time.Sleep(50 * time.Millisecond)
	records, err := client.Events(ctx, 10)
	if err != nil {
		panic(err)
	}
	for _, rec := range records {
		fmt.Printf("%s %s\n", rec.OccurredAt.Format(time.RFC3339), rec.Event)
	}
}
