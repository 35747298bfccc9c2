package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/tokex-io/bridge-go/btcman"
	"github.com/tokex-io/bridge-go/common"
	"github.com/tokex-io/bridge-go/store"
)

const (
	ROUTE_STATUS         = "/status"
	ROUTE_TOKENS         = "/tokens"
	ROUTE_TOKEN_DELETE   = "/tokens/delete"
	ROUTE_ADDRESS        = "/accounts/address"
	ROUTE_ACCOUNTS       = "/accounts"
	ROUTE_TRANSACTIONS   = "/transactions"
	ROUTE_NOTIFY_BLOCK   = "/notify/block"
	ROUTE_NOTIFY_TX      = "/notify/transaction"
	ROUTE_SUSPEND        = "/suspend"
	ROUTE_RESUME         = "/resume"
	ROUTE_WALLET_SEND    = "/wallet/send"
	ROUTE_WALLET_EMPTY   = "/wallet/empty"
	ROUTE_ROLLBACK_CHAIN = "/rollback"
)

// HttpServer publishes the admin operations as JSON routes. Credential
// verification belongs to the proxy in front of it.
type HttpServer struct {
	serverIP   string
	serverPort string
	api        *API
}

func NewHttpServer(serverIP, serverPort string, api *API) *HttpServer {
	return &HttpServer{serverIP: serverIP, serverPort: serverPort, api: api}
}

// Hook up routes & handlers
func (h *HttpServer) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_STATUS, h.getStatus)
	router.GET(ROUTE_TOKENS, h.getTokens)
	router.POST(ROUTE_TOKEN_DELETE, h.deleteToken)
	router.POST(ROUTE_ADDRESS, h.requestAddress)
	router.GET(ROUTE_ACCOUNTS, h.getAccounts)
	router.GET(ROUTE_TRANSACTIONS, h.getTransactions)
	router.POST(ROUTE_NOTIFY_BLOCK, h.blockReceived)
	router.POST(ROUTE_NOTIFY_TX, h.transactionReceived)
	router.POST(ROUTE_SUSPEND, h.suspend)
	router.POST(ROUTE_RESUME, h.resume)
	router.POST(ROUTE_WALLET_SEND, h.sendCoins)
	router.POST(ROUTE_WALLET_EMPTY, h.emptyWallet)
	router.POST(ROUTE_ROLLBACK_CHAIN, h.rollbackChain)

	return router
}

func (h *HttpServer) Run() error {
	router := h.SetupRouter()
	return router.Run(h.serverIP + ":" + h.serverPort)
}

// fail maps the service's sentinel errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, btcman.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExchanged),
		errors.Is(err, btcman.ErrInsufficientFunds):
		status = http.StatusConflict
	case errors.Is(err, btcman.ErrUnsupported):
		status = http.StatusNotImplemented
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *HttpServer) getStatus(c *gin.Context) {
	s, err := h.api.GetStatus()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *HttpServer) getTokens(c *gin.Context) {
	fromHeight, err := strconv.ParseInt(c.DefaultQuery("from_height", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad from_height"})
		return
	}
	tokens, err := h.api.GetTokens(fromHeight, c.Query("include_exchanged") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tokens})
}

func (h *HttpServer) deleteToken(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}
	if err := h.api.DeleteToken(common.HexStrToHash(id)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *HttpServer) requestAddress(c *gin.Context) {
	hostId := c.Query("host_account_id")
	if hostId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host_account_id must be provided"})
		return
	}
	var publicKey []byte
	if pk := c.Query("public_key"); pk != "" {
		publicKey = common.HexStrToByteSlice(pk)
	}
	address, err := h.api.RequestAddress(ethcommon.HexToAddress(hostId), publicKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address})
}

func (h *HttpServer) getAccounts(c *gin.Context) {
	var hostId ethcommon.Address
	if s := c.Query("host_account_id"); s != "" {
		hostId = ethcommon.HexToAddress(s)
	}
	accounts, err := h.api.GetAccounts(hostId, c.Query("coin_address"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (h *HttpServer) getTransactions(c *gin.Context) {
	txs, err := h.api.GetTransactions(c.Query("coin_address"), c.Query("include_exchanged") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (h *HttpServer) blockReceived(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}
	if err := h.api.BlockReceived(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": id})
}

func (h *HttpServer) transactionReceived(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}
	if err := h.api.TransactionReceived(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": id})
}

func (h *HttpServer) suspend(c *gin.Context) {
	h.api.Suspend(c.Query("reason"))
	c.JSON(http.StatusOK, gin.H{"state": "SUSPENDED"})
}

func (h *HttpServer) resume(c *gin.Context) {
	h.api.Resume()
	c.JSON(http.StatusOK, gin.H{"state": "RUNNING"})
}

func (h *HttpServer) sendCoins(c *gin.Context) {
	address := c.Query("address")
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if address == "" || err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and a positive amount must be provided"})
		return
	}
	txId, err := h.api.SendCoins(address, amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coinTxId": txId})
}

func (h *HttpServer) emptyWallet(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be provided"})
		return
	}
	txId, amount, err := h.api.EmptyWallet(address)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coinTxId": txId, "amount": amount})
}

func (h *HttpServer) rollbackChain(c *gin.Context) {
	height, err := strconv.ParseInt(c.Query("height"), 10, 64)
	if err != nil || height < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "height must be provided"})
		return
	}
	if err := h.api.RollbackChain(height); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolledBackTo": height})
}
