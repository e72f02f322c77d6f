package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dx-bots/internal/dx"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	rdnAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	omgAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")
	owner      = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_getBalance":
			resp["result"] = "0x3782dace9d90000"
		case "eth_call":
			var call struct {
				To   string `json:"to"`
				Data string `json:"input"`
			}
			_ = json.Unmarshal(req.Params[0], &call)
			switch {
			case strings.EqualFold(call.To, rdnAddress.Hex()):
				resp["result"] = "0x000000000000000000000000000000000000000000000043c33c193756480000"
			case strings.EqualFold(call.To, omgAddress.Hex()):
				resp["result"] = "0x000000000000000000000000000000000000000000000000000000001dcd6500"
			default:
				resp["error"] = map[string]any{"code": -32000, "message": "execution reverted"}
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	client, err := Dial(context.Background(), url, time.Second, []Token{
		{Symbol: "rdn", Address: rdnAddress, Decimals: 18},
		{Symbol: "OMG", Address: omgAddress, Decimals: 8},
		{Symbol: "GNO", Address: common.HexToAddress("0x4444444444444444444444444444444444444444"), Decimals: 18},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestEtherBalance(t *testing.T) {
	client := dialTest(t, newRPCServer(t).URL)
	bal, err := client.EtherBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("ether balance: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("expected 0.25 ETH, got %s", bal)
	}
}

func TestTokenBalance(t *testing.T) {
	client := dialTest(t, newRPCServer(t).URL)
	ctx := context.Background()

	rdn, err := client.TokenBalance(ctx, owner, "RDN")
	if err != nil {
		t.Fatalf("rdn balance: %v", err)
	}
	if !rdn.Equal(decimal.NewFromInt(1250)) {
		t.Fatalf("expected 1250 RDN, got %s", rdn)
	}
	omg, err := client.TokenBalance(ctx, owner, "omg")
	if err != nil {
		t.Fatalf("omg balance: %v", err)
	}
	if !omg.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 OMG, got %s", omg)
	}
	if _, err := client.TokenBalance(ctx, owner, "GNO"); !errors.Is(err, dx.ErrRead) {
		t.Fatalf("expected ErrRead for reverted call, got %v", err)
	}
	if _, err := client.TokenBalance(ctx, owner, "MKR"); !errors.Is(err, dx.ErrRead) {
		t.Fatalf("expected ErrRead for unknown token, got %v", err)
	}
}

func TestResolveAddress(t *testing.T) {
	addr, err := ResolveAddress("0x3333333333333333333333333333333333333333", "")
	if err != nil || addr != owner {
		t.Fatalf("expected configured address, got %s %v", addr.Hex(), err)
	}
	if _, err := ResolveAddress("not-an-address", ""); err == nil {
		t.Fatalf("expected error for invalid address")
	}

	t.Setenv("DX_TEST_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	addr, err = ResolveAddress("", "DX_TEST_KEY")
	if err != nil {
		t.Fatalf("resolve from key: %v", err)
	}
	if addr != common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	if _, err := ResolveAddress("", "DX_TEST_MISSING_KEY"); err == nil {
		t.Fatalf("expected error for unset key env")
	}
}
