// Package httpapi exposes the settlement engine over REST. Every mutating
// route acts on behalf of the authenticated caller address; the handler
// presents the gateway trust token to the registries.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	app "github.com/R3E-Network/settlement_engine/internal/app"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/bid"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/collection"
	"github.com/R3E-Network/settlement_engine/internal/app/domain/listing"
	"github.com/R3E-Network/settlement_engine/internal/app/events"
	"github.com/R3E-Network/settlement_engine/internal/app/ledger"
	"github.com/R3E-Network/settlement_engine/internal/app/metrics"
	"github.com/R3E-Network/settlement_engine/internal/errors"
	"github.com/R3E-Network/settlement_engine/internal/middleware"
	"github.com/R3E-Network/settlement_engine/pkg/logger"
)

// Handler bundles the REST endpoints for the settlement services.
type Handler struct {
	app *app.Application
	ws  *events.WSHandler
	log *logger.Logger
}

// New creates the REST handler.
func New(application *app.Application, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		app: application,
		ws:  events.NewWSHandler(application.Bus, log),
		log: log,
	}
}

// Routes builds the route tree. Authentication is applied by the caller so
// that /healthz and /metrics stay open.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/events/ws", h.ws.ServeHTTP)

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", h.listCollections)
		r.Post("/", h.registerCollection)

		r.Route("/{address}", func(r chi.Router) {
			r.Get("/", h.getCollection)
			r.Put("/royalties", h.updateRoyalties)

			r.Route("/listings", func(r chi.Router) {
				r.Get("/", h.listListings)
				r.Post("/", h.createListing)
				r.Get("/{tokenID}", h.getListing)
				r.Delete("/{tokenID}", h.cancelListing)
				r.Post("/{tokenID}/buy", h.buyListing)
			})
			r.Post("/purchases", h.buyBatch)

			r.Route("/bids", func(r chi.Router) {
				r.Get("/", h.listCollectionBids)
				r.Post("/", h.createCollectionBid)
				r.Delete("/", h.cancelCollectionBid)
				r.Post("/{bidder}/accept", h.acceptCollectionBid)
			})

			r.Route("/items/{tokenID}/bids", func(r chi.Router) {
				r.Get("/", h.listTokenBids)
				r.Post("/", h.createTokenBid)
				r.Delete("/", h.cancelTokenBid)
				r.Post("/{bidder}/accept", h.acceptTokenBid)
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Put("/fee", h.updateFee)
		r.Put("/fee-receiver", h.updateFeeReceiver)
	})

	r.Route("/ledger", func(r chi.Router) {
		r.Get("/balance", h.balance)
		r.Post("/deposits", h.deposit)
		r.Post("/withdrawals", h.withdraw)
	})

	return r
}

// DTOs; amounts travel as decimal strings so 256-bit values survive JSON.

type collectionDTO struct {
	Address         string `json:"address"`
	RoyaltyReceiver string `json:"royalty_receiver"`
	RoyaltyFeeBps   uint32 `json:"royalty_fee_bps"`
	Volume          string `json:"volume"`
	Sales           uint64 `json:"sales"`
}

type listingDTO struct {
	ID         int64  `json:"id"`
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
}

type collectionBidDTO struct {
	Collection string `json:"collection"`
	Bidder     string `json:"bidder"`
	Quantity   uint64 `json:"quantity"`
	Price      string `json:"price"`
	Escrow     string `json:"escrow"`
}

type tokenBidDTO struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Bidder     string `json:"bidder"`
	Price      string `json:"price"`
}

func toCollectionDTO(c collection.Collection) collectionDTO {
	volume := "0"
	if c.Volume != nil {
		volume = c.Volume.String()
	}
	return collectionDTO{
		Address:         c.Address,
		RoyaltyReceiver: c.RoyaltyReceiver,
		RoyaltyFeeBps:   c.RoyaltyFeeBps,
		Volume:          volume,
		Sales:           c.Sales,
	}
}

func toListingDTO(l listing.Listing) listingDTO {
	return listingDTO{
		ID:         l.ID,
		Collection: l.Collection,
		TokenID:    l.TokenID,
		Seller:     l.Seller,
		Price:      l.Price.String(),
	}
}

func toCollectionBidDTO(b bid.CollectionBid) collectionBidDTO {
	return collectionBidDTO{
		Collection: b.Collection,
		Bidder:     b.Bidder,
		Quantity:   b.Quantity,
		Price:      b.Price.String(),
		Escrow:     b.Escrow().String(),
	}
}

func toTokenBidDTO(b bid.TokenBid) tokenBidDTO {
	return tokenBidDTO{
		Collection: b.Collection,
		TokenID:    b.TokenID,
		Bidder:     b.Bidder,
		Price:      b.Price.String(),
	}
}

// Collections ---------------------------------------------------------------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Collections.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]collectionDTO, 0, len(records))
	for _, c := range records {
		out = append(out, toCollectionDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) registerCollection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address    string `json:"address"`
		RoyaltyBps uint32 `json:"royalty_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	record, err := h.app.Collections.Register(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), payload.Address, payload.RoyaltyBps)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionDTO(record))
}

func (h *Handler) getCollection(w http.ResponseWriter, r *http.Request) {
	record, err := h.app.Collections.Get(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(record))
}

func (h *Handler) updateRoyalties(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Receiver   string `json:"receiver"`
		RoyaltyBps uint32 `json:"royalty_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	record, err := h.app.Collections.UpdateRoyalties(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), payload.Receiver, payload.RoyaltyBps)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(record))
}

// Listings ------------------------------------------------------------------

func (h *Handler) listListings(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Listings.ListByCollection(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]listingDTO, 0, len(records))
	for _, l := range records {
		out = append(out, toListingDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createListing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenID string `json:"token_id"`
		Price   string `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(payload.Price)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	var created listing.Listing
	err = h.settle("list", func() error {
		var err error
		created, err = h.app.Listings.List(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), payload.TokenID, price)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingDTO(created))
}

func (h *Handler) getListing(w http.ResponseWriter, r *http.Request) {
	record, err := h.app.Listings.Get(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingDTO(record))
}

func (h *Handler) cancelListing(w http.ResponseWriter, r *http.Request) {
	err := h.settle("cancelList", func() error {
		return h.app.Listings.Cancel(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) buyListing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	value, err := parseAmount(payload.Value)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	err = h.settle("buy", func() error {
		return h.app.Listings.Buy(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"), value)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (h *Handler) buyBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenIDs []string `json:"token_ids"`
		Value    string   `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	value, err := parseAmount(payload.Value)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	err = h.settle("buyBatch", func() error {
		return h.app.Listings.BuyBatch(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), payload.TokenIDs, value)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// Collection bids -----------------------------------------------------------

func (h *Handler) listCollectionBids(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.CollectionBids.ListByCollection(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]collectionBidDTO, 0, len(records))
	for _, b := range records {
		out = append(out, toCollectionBidDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createCollectionBid(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Price    string `json:"price"`
		Quantity uint64 `json:"quantity"`
		Value    string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(payload.Price)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	value, err := parseAmount(payload.Value)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	var created bid.CollectionBid
	err = h.settle("bidCollection", func() error {
		var err error
		created, err = h.app.CollectionBids.Bid(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), price, payload.Quantity, value)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionBidDTO(created))
}

func (h *Handler) cancelCollectionBid(w http.ResponseWriter, r *http.Request) {
	err := h.settle("cancelCollectionBid", func() error {
		return h.app.CollectionBids.Cancel(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) acceptCollectionBid(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Items []string `json:"items"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	err := h.settle("acceptCollectionBid", func() error {
		return h.app.CollectionBids.Accept(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "bidder"), payload.Items)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// Token bids ----------------------------------------------------------------

func (h *Handler) listTokenBids(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.TokenBids.ListByToken(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]tokenBidDTO, 0, len(records))
	for _, b := range records {
		out = append(out, toTokenBidDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createTokenBid(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Price string `json:"price"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(payload.Price)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	value, err := parseAmount(payload.Value)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	var created bid.TokenBid
	err = h.settle("bidToken", func() error {
		var err error
		created, err = h.app.TokenBids.Bid(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"), price, value)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenBidDTO(created))
}

func (h *Handler) cancelTokenBid(w http.ResponseWriter, r *http.Request) {
	err := h.settle("cancelTokenBid", func() error {
		return h.app.TokenBids.Cancel(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "tokenID"))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) acceptTokenBid(w http.ResponseWriter, r *http.Request) {
	err := h.settle("acceptTokenBid", func() error {
		return h.app.TokenBids.Accept(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), chi.URLParam(r, "address"), chi.URLParam(r, "bidder"), chi.URLParam(r, "tokenID"))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// Admin ---------------------------------------------------------------------

func (h *Handler) updateFee(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FeeBps uint32 `json:"fee_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	if err := h.app.Distributor.UpdateFee(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), payload.FeeBps); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"fee_bps": h.app.Distributor.FeeBps()})
}

func (h *Handler) updateFeeReceiver(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Receiver string `json:"receiver"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}

	if err := h.app.Distributor.UpdateFeeReceiver(r.Context(), h.app.Gateway, middleware.Caller(r.Context()), payload.Receiver); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiver": h.app.Distributor.FeeReceiver()})
}

// Ledger --------------------------------------------------------------------

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	caller := middleware.Caller(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"account": caller,
		"balance": h.app.Ledger.Balance(caller).String(),
	})
	h.reportEscrow()
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	caller := middleware.Caller(r.Context())
	if err := h.app.Ledger.Credit(caller, amount); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": caller,
		"balance": h.app.Ledger.Balance(caller).String(),
	})
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	caller := middleware.Caller(r.Context())
	if err := h.app.Ledger.Debit(caller, amount); err != nil {
		status := http.StatusBadRequest
		if stderrors.Is(err, ledger.ErrInsufficientFunds) {
			status = http.StatusConflict
		}
		writeErrorStatus(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": caller,
		"balance": h.app.Ledger.Balance(caller).String(),
	})
}

// settle runs one mutating market operation, counting its outcome and
// refreshing the escrow gauge once it completes.
func (h *Handler) settle(operation string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = string(errors.CategoryOf(err))
	}
	metrics.RecordSettlement(operation, status, time.Since(start))
	h.reportEscrow()
	return err
}

func (h *Handler) reportEscrow() {
	held, _ := new(big.Float).SetInt(h.app.Ledger.Balance(ledger.EngineAccount)).Float64()
	metrics.SetEngineEscrow(held)
}

// Helpers -------------------------------------------------------------------

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, err error) {
	writeErrorStatus(w, http.StatusBadRequest, err)
}

// writeError maps a settlement error onto its HTTP status and surfaces the
// failure reason to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": err.Error()}

	var e *errors.Error
	if stderrors.As(err, &e) {
		status = e.HTTPStatus()
		body["reason"] = string(e.Reason)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
