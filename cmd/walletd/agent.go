package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/wallet/injected"
	"OpenMCP-Wallet/internal/wallet/rpcagent"
	"OpenMCP-Wallet/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// newDevWallet 根据配置构造进程内钱包。未配置公钥时生成一把临时密钥。
func newDevWallet(cfg config.DevWalletConfig) (*injected.Wallet, error) {
	decision, err := injected.ParseDecision(cfg.Decision)
	if err != nil {
		return nil, err
	}

	var publicKey []byte
	if cfg.PublicKey != "" {
		publicKey = common.FromHex(cfg.PublicKey)
		if len(publicKey) == 0 {
			return nil, fmt.Errorf("无效的开发钱包公钥: %s", cfg.PublicKey)
		}
	} else {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("生成开发钱包密钥失败: %w", err)
		}
		publicKey = crypto.CompressPubkey(&key.PublicKey)
	}

	w := injected.New(publicKey, injected.Always(decision))
	if cfg.Disconnect != "" {
		w.FailDisconnect(errors.New(cfg.Disconnect))
	}
	return w, nil
}

func newAgentCommand(load func() (*config.Config, error)) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "以 JSON-RPC 暴露开发钱包，供 wallet.agent=rpc 的 walletd 连接",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			dev, err := newDevWallet(cfg.Wallet.Dev)
			if err != nil {
				return err
			}
			return serveAgent(cmd.Context(), listen, dev)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8546", "JSON-RPC 监听地址，WebSocket 路径为 /ws")
	return cmd
}

func serveAgent(ctx context.Context, addr string, agent wallet.Agent) error {
	log := logger.Named("agent")

	rpcServer, err := rpcagent.NewServer(agent)
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	agent.On(wallet.SignalConnect, func(payload any) {
		key, _ := payload.([]byte)
		log.Info("钱包已授权", slog.String("public_key", hexutil.Encode(key)))
	})
	agent.On(wallet.SignalDisconnect, func(any) {
		log.Info("钱包已断开")
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))
	mux.Handle("/", rpcServer)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("开发钱包已启动", slog.String("address", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
