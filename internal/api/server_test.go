package api

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clob/internal/config"
	"clob/internal/exchange"
	"clob/internal/orderbook"
)

func TestTradesBroadcastOncePerBook(t *testing.T) {
	ex := exchange.New(exchange.Options{AutoCreate: true}, nil, nil)
	book, err := ex.Create("AAPL")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s := NewServer(ex, nil, config.Server{}, zap.NewNop())
	defer s.Shutdown()

	// offered again, as when a book opens while the server is starting
	s.watchBook(book)

	client := &Client{hub: s.hub, send: make(chan []byte, 16)}
	s.hub.Register(client)

	if _, err := ex.PlaceOrder("AAPL", orderbook.Sell, orderbook.Limit, 5, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if _, err := ex.PlaceOrder("AAPL", orderbook.Buy, orderbook.Limit, 5, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	var trades int
	for len(client.send) > 0 {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(<-client.send, &msg); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		if msg.Type == "trade" {
			trades++
		}
	}
	if trades != 1 {
		t.Errorf("expected 1 trade message, got %d", trades)
	}
}
