package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/6529-Collections/royaltynode/internal/cache"
	"github.com/6529-Collections/royaltynode/internal/eth"
	"github.com/6529-Collections/royaltynode/internal/eth/ethtest"
	"github.com/6529-Collections/royaltynode/internal/refresh"
	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/rpc/handlers"
	"github.com/6529-Collections/royaltynode/internal/signals"
	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	nftAddr      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	routerAddr   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	splitterAddr = common.HexToAddress("0x4000000000000000000000000000000000000004")
	creator      = common.HexToAddress("0xAAAA000000000000000000000000000000000001")
	buyer        = common.HexToAddress("0xBBBB000000000000000000000000000000000002")
	payee        = common.HexToAddress("0xCCCC000000000000000000000000000000000003")
)

func txHash(n byte) common.Hash {
	return common.BytesToHash([]byte{0xee, n})
}

// newTestServices wires the real builders, caches and policies over an
// in-memory chain where creator mints token 7 and buyer buys it.
func newTestServices(t *testing.T) (Services, *signals.Bus) {
	t.Helper()
	price, _ := new(big.Int).SetString("1000000000000000000", 10)
	royaltyAmount, _ := new(big.Int).SetString("100000000000000000", 10)
	token := big.NewInt(7)

	chain := ethtest.NewChain(200)
	chain.AddLog(ethtest.EventLog(nftAddr, eth.NFTTransfer, 100, txHash(1), 0, []interface{}{eth.ZeroAddress, creator, token}))
	chain.AddLog(ethtest.EventLog(nftAddr, eth.TokenMinted, 100, txHash(1), 1, []interface{}{token, creator, splitterAddr}, "ipfs://meta"))
	chain.AddLog(ethtest.EventLog(nftAddr, eth.NFTTransfer, 120, txHash(3), 1, []interface{}{creator, buyer, token}))
	chain.AddLog(ethtest.EventLog(splitterAddr, eth.RoyaltyDistributed, 120, txHash(3), 2, []interface{}{token, payee}, royaltyAmount))
	chain.AddLog(ethtest.EventLog(routerAddr, eth.Sale, 120, txHash(3), 3, []interface{}{token, buyer, creator}, price, royaltyAmount))
	chain.HandleCalls(splitterAddr, ethtest.SharesHandler([]common.Address{payee}, []*big.Int{big.NewInt(10000)}))
	chain.HandleCalls(nftAddr, ethtest.NFTHandler(nil, map[string]common.Address{"7": splitterAddr}))

	fetcher := eth.NewFetcher(chain, 1000)
	joiner := eth.NewJoiner(fetcher, nftAddr, routerAddr, nil)
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	builder := royalty.NewBuilder(fetcher, joiner, nil, royalty.Contracts{NFT: nftAddr, Router: routerAddr}, pool)

	store := cache.NewMemoryStore()
	bus := signals.NewBus()
	return Services{
		Chain:            fetcher,
		Transactions:     refresh.New(cache.New[royalty.TransactionRecord](store, cache.NamespaceTransactions), builder.History, refresh.Options{}),
		Royalties:        refresh.New(cache.New[royalty.RoyaltyDistributionRecord](store, cache.NamespaceRoyalties), builder.RecipientRoyalties, refresh.Options{}),
		CreatorRoyalties: refresh.New(cache.New[royalty.RoyaltyDistributionRecord](store, cache.NamespaceCreatorRoyalties), builder.CreatorRoyalties, refresh.Options{}),
		Signals:          bus,
	}, bus
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStartRPCServer_StartAndClose(t *testing.T) {
	services, _ := newTestServices(t)
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeFunc := StartRPCServer(port, ctx, services)
	defer closeFunc()

	time.Sleep(100 * time.Millisecond)

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port)
	var status handlers.StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, url, &status))
	assert.Equal(t, "OK", status.Status)
	assert.Equal(t, uint64(200), status.Head)

	start := time.Now()
	closeFunc()
	require.Less(t, time.Since(start), 5*time.Second, "server shutdown took too long")

	time.Sleep(100 * time.Millisecond)
	_, err := http.Get(url)
	require.Error(t, err, "expected error after server shutdown, got none")
}

func TestStartRPCServer_InvalidRoute(t *testing.T) {
	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/v1/invalid-route", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/v1/royalties/creator/", nil))
}

func TestResponseWriter_StatusCodeCapture(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	originalLogger := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(originalLogger)

	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	require.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/api/v1/transactions/not-an-address", nil))

	found := false
	for _, entry := range logs.FilterMessage("Request").All() {
		fields := entry.ContextMap()
		if fields["path"] == "/api/v1/transactions/not-an-address" && fields["status"] == int64(http.StatusBadRequest) {
			assert.Equal(t, http.MethodGet, fields["method"])
			assert.NotEmpty(t, fields["ip"])
			found = true
		}
	}
	assert.True(t, found, "did not find request log with status 400")
}

func TestServer_TransactionsEndToEnd(t *testing.T) {
	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	var resp handlers.ViewResponse[royalty.TransactionRecord]
	url := server.URL + "/api/v1/transactions/" + creator.Hex()
	require.Equal(t, http.StatusOK, getJSON(t, url, &resp))

	require.Len(t, resp.Data, 2)
	assert.Equal(t, royalty.KindSale, resp.Data[0].Kind)
	assert.Equal(t, royalty.KindMint, resp.Data[1].Kind)
	assert.Equal(t, "1", resp.Summary.TotalEarnings)
	assert.Equal(t, uint64(200), resp.LastScannedBlock)
	assert.Equal(t, refresh.Absent, resp.State)
	assert.False(t, resp.Stale)

	// Served from cache the second time.
	require.Equal(t, http.StatusOK, getJSON(t, url, &resp))
	assert.Equal(t, refresh.Fresh, resp.State)
}

func TestServer_RoyaltiesEndToEnd(t *testing.T) {
	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	var recipient handlers.ViewResponse[royalty.RoyaltyDistributionRecord]
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/v1/royalties/"+payee.Hex(), &recipient))
	require.Len(t, recipient.Data, 1)
	assert.Equal(t, "NFT #7", recipient.Data[0].NFTDisplayName)
	assert.InDelta(t, 100.0, recipient.Data[0].Percentage, 1e-9)
	assert.Equal(t, "1000000000000000000", recipient.Data[0].SalePrice)

	var byCreator handlers.ViewResponse[royalty.RoyaltyDistributionRecord]
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/v1/royalties/creator/"+creator.Hex(), &byCreator))
	require.Len(t, byCreator.Data, 1)
	assert.Equal(t, strings.ToLower(payee.Hex()), byCreator.Summary.TopEntity.ID)
}

func TestServer_PostSignal(t *testing.T) {
	services, bus := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	received := make(chan signals.Signal, 1)
	unsubscribe := bus.Subscribe(func(s signals.Signal) { received <- s })
	defer unsubscribe()

	resp, err := http.Post(server.URL+"/api/v1/signals", "application/json",
		strings.NewReader(`{"address":"`+buyer.Hex()+`","kind":"purchase"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case sig := <-received:
		assert.Equal(t, strings.ToLower(buyer.Hex()), sig.Address)
		assert.Equal(t, signals.OriginHTTP, sig.Origin)
	case <-time.After(time.Second):
		t.Fatal("signal not published")
	}

	resp, err = http.Get(server.URL + "/api/v1/signals")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	getJSON(t, server.URL+"/api/v1/transactions/"+creator.Hex(), nil)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "royaltynode_cache_lookups_total")
	assert.Contains(t, string(body), "royaltynode_refreshes_total")
}

func TestServer_ConcurrentRequests(t *testing.T) {
	services, _ := newTestServices(t)
	server := httptest.NewServer(NewHandler(services))
	defer server.Close()

	url := server.URL + "/api/v1/transactions/" + buyer.Hex()

	const numRequests = 10
	errChan := make(chan error, numRequests)
	for i := 0; i < numRequests; i++ {
		go func() {
			resp, err := http.Get(url)
			if err != nil {
				errChan <- fmt.Errorf("failed to connect: %v", err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errChan <- fmt.Errorf("expected 200, got %d", resp.StatusCode)
				return
			}
			var body handlers.ViewResponse[royalty.TransactionRecord]
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				errChan <- err
				return
			}
			if len(body.Data) != 1 || body.Data[0].Kind != royalty.KindBought {
				errChan <- fmt.Errorf("unexpected records %+v", body.Data)
				return
			}
			errChan <- nil
		}()
	}

	for i := 0; i < numRequests; i++ {
		require.NoError(t, <-errChan)
	}
}
