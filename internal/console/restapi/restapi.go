/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package restapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/approval"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/internal/proposal"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const (
	URLBaseV1                     = "/api/v1/"
	URLSignatureCollections       = URLBaseV1 + "signature_collections"
	URLConfigDiff                 = URLBaseV1 + "configdiff"
	txIDKey                       = "txid"
	urlWithTxIDKey                = URLSignatureCollections + "/{" + txIDKey + "}"
	maxBodyBytes            int64 = 10 * 1024 * 1024
)

// Collections is the approval request lifecycle exposed over HTTP.
type Collections interface {
	Get(ctx context.Context, txID string) (*approval.Request, error)
	List(ctx context.Context, f approval.Filter) ([]*approval.Request, error)
	Sign(ctx context.Context, txID string, identities []identity.MSPSigner, mspIDs []string) (*approval.Request, error)
	Submit(ctx context.Context, txID string, signer identity.MSPSigner) (*approval.Request, error)
	Close(ctx context.Context, txID string) (*approval.Request, error)
	Archive(ctx context.Context, txID string) (*approval.Request, error)
	Delete(ctx context.Context, txID string) error
}

// Proposer turns proposed changes into submissions or approval requests.
type Proposer interface {
	Propose(ctx context.Context, p proposal.Proposal, identities []identity.MSPSigner) (*proposal.Outcome, error)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// TxID names the request a failed proposal still left behind.
	TxID string `json:"tx_id,omitempty"`
}

// ProposeRequest is the body of a proposal.
type ProposeRequest struct {
	TxID          string                      `json:"tx_id"`
	Channel       string                      `json:"channel"`
	OriginatorMSP string                      `json:"originator_msp"`
	CurrentPolicy *policies.Descriptor        `json:"current_policy"`
	OrdererPolicy *policies.Descriptor        `json:"orderer_policy"`
	Orgs          []string                    `json:"orgs"`
	Orderers      []string                    `json:"orderers"`
	Observers     []string                    `json:"observers"`
	Current       configdiff.Snapshot         `json:"current"`
	Updated       configdiff.Snapshot         `json:"updated"`
	Proposal      []byte                      `json:"proposal"`
	CCD           *ledger.ChaincodeDefinition `json:"ccd"`
}

// ProposeResponse reports the outcome of a proposal.
type ProposeResponse struct {
	Submitted              bool              `json:"submitted"`
	RequiredSignatures     int               `json:"required_signatures"`
	OrdererSignatureNeeded bool              `json:"orderer_signature_needed"`
	Diff                   *configdiff.Diff  `json:"json_diff,omitempty"`
	Request                *approval.Request `json:"signature_collection,omitempty"`
}

type SignRequest struct {
	MSPIDs []string `json:"msp_ids"`
}

type SubmitRequest struct {
	MSPID string `json:"msp_id"`
}

type ConfigDiffRequest struct {
	Current configdiff.Snapshot `json:"current"`
	Updated configdiff.Snapshot `json:"updated"`
}

type recoveryLogger struct {
	*flogging.FabricLogger
}

func (r recoveryLogger) Println(args ...interface{}) {
	r.Error(args...)
}

// HTTPHandler handles all the HTTP requests to the signature collection API.
type HTTPHandler struct {
	logger      *flogging.FabricLogger
	collections Collections
	proposer    Proposer
	identities  []identity.MSPSigner
	router      *mux.Router
	handler     http.Handler
}

func NewHTTPHandler(collections Collections, proposer Proposer, identities []identity.MSPSigner) *HTTPHandler {
	h := &HTTPHandler{
		logger:      flogging.MustGetLogger("console.restapi"),
		collections: collections,
		proposer:    proposer,
		identities:  identities,
		router:      mux.NewRouter(),
	}

	h.router.HandleFunc(urlWithTxIDKey+"/sign", h.serveSign).Methods(http.MethodPut)
	h.router.HandleFunc(urlWithTxIDKey+"/submit", h.serveSubmit).Methods(http.MethodPost)
	h.router.HandleFunc(urlWithTxIDKey+"/close", h.serveClose).Methods(http.MethodPost)
	h.router.HandleFunc(urlWithTxIDKey+"/archive", h.serveArchive).Methods(http.MethodPost)
	h.router.HandleFunc(urlWithTxIDKey, h.serveGet).Methods(http.MethodGet)
	h.router.HandleFunc(urlWithTxIDKey, h.serveDelete).Methods(http.MethodDelete)
	h.router.HandleFunc(urlWithTxIDKey, h.serveNotAllowed)
	h.router.HandleFunc(URLSignatureCollections, h.serveList).Methods(http.MethodGet)
	h.router.HandleFunc(URLSignatureCollections, h.servePropose).Methods(http.MethodPost)
	h.router.HandleFunc(URLSignatureCollections, h.serveNotAllowed)
	h.router.HandleFunc(URLConfigDiff, h.serveConfigDiff).Methods(http.MethodPost)
	h.router.HandleFunc(URLConfigDiff, h.serveNotAllowed)

	h.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h.logger}),
		handlers.PrintRecoveryStack(true),
	)(handlers.ContentTypeHandler(h.router, "application/json"))

	return h
}

func (h *HTTPHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	h.handler.ServeHTTP(resp, req)
}

func (h *HTTPHandler) serveList(resp http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	requests, err := h.collections.List(req.Context(), approval.Filter{
		Channel:    q.Get("channel"),
		Status:     approval.Status(q.Get("status")),
		Visibility: approval.Visibility(q.Get("visibility")),
	})
	if err != nil {
		h.sendError(resp, err)
		return
	}
	if requests == nil {
		requests = []*approval.Request{}
	}
	h.sendResponse(resp, http.StatusOK, requests)
}

func (h *HTTPHandler) servePropose(resp http.ResponseWriter, req *http.Request) {
	var body ProposeRequest
	if !h.decodeBody(resp, req, proposeSchema, &body) {
		return
	}

	out, err := h.proposer.Propose(req.Context(), proposal.Proposal{
		TxID:           body.TxID,
		Channel:        body.Channel,
		OriginatorMSP:  body.OriginatorMSP,
		CurrentPolicy:  body.CurrentPolicy,
		OrdererPolicy:  body.OrdererPolicy,
		OrgMSPIDs:      body.Orgs,
		OrdererMSPIDs:  body.Orderers,
		ObserverMSPIDs: body.Observers,
		Current:        body.Current,
		Updated:        body.Updated,
		Payload:        body.Proposal,
		CCD:            body.CCD,
	}, h.identities)
	if err != nil {
		if out != nil && out.Request != nil {
			h.sendErrorFor(resp, err, out.Request.TxID)
			return
		}
		h.sendError(resp, err)
		return
	}

	status := http.StatusOK
	if out.Request != nil {
		status = http.StatusCreated
	}
	h.sendResponse(resp, status, &ProposeResponse{
		Submitted:              out.Submitted,
		RequiredSignatures:     out.RequiredSignatures,
		OrdererSignatureNeeded: out.OrdererSignatureNeeded,
		Diff:                   out.Diff,
		Request:                out.Request,
	})
}

func (h *HTTPHandler) serveGet(resp http.ResponseWriter, req *http.Request) {
	r, err := h.collections.Get(req.Context(), mux.Vars(req)[txIDKey])
	h.respond(resp, r, err)
}

func (h *HTTPHandler) serveSign(resp http.ResponseWriter, req *http.Request) {
	var body SignRequest
	if !h.decodeBody(resp, req, signSchema, &body) {
		return
	}
	r, err := h.collections.Sign(req.Context(), mux.Vars(req)[txIDKey], h.identities, body.MSPIDs)
	h.respond(resp, r, err)
}

func (h *HTTPHandler) serveSubmit(resp http.ResponseWriter, req *http.Request) {
	var body SubmitRequest
	if !h.decodeBody(resp, req, submitSchema, &body) {
		return
	}
	signer, err := h.submitter(body.MSPID)
	if err != nil {
		h.sendError(resp, err)
		return
	}
	r, err := h.collections.Submit(req.Context(), mux.Vars(req)[txIDKey], signer)
	h.respond(resp, r, err)
}

func (h *HTTPHandler) serveClose(resp http.ResponseWriter, req *http.Request) {
	r, err := h.collections.Close(req.Context(), mux.Vars(req)[txIDKey])
	h.respond(resp, r, err)
}

func (h *HTTPHandler) serveArchive(resp http.ResponseWriter, req *http.Request) {
	r, err := h.collections.Archive(req.Context(), mux.Vars(req)[txIDKey])
	h.respond(resp, r, err)
}

func (h *HTTPHandler) serveDelete(resp http.ResponseWriter, req *http.Request) {
	if err := h.collections.Delete(req.Context(), mux.Vars(req)[txIDKey]); err != nil {
		h.sendError(resp, err)
		return
	}
	resp.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) serveConfigDiff(resp http.ResponseWriter, req *http.Request) {
	var body ConfigDiffRequest
	if !h.decodeBody(resp, req, configDiffSchema, &body) {
		return
	}
	d, err := configdiff.Compute(body.Current, body.Updated)
	if err != nil {
		h.sendError(resp, &approval.ValidationError{Msg: err.Error()})
		return
	}
	h.sendResponse(resp, http.StatusOK, d)
}

func (h *HTTPHandler) serveNotAllowed(resp http.ResponseWriter, req *http.Request) {
	switch {
	case strings.HasPrefix(req.URL.Path, URLConfigDiff):
		resp.Header().Set("Allow", "POST")
	case mux.Vars(req)[txIDKey] != "":
		resp.Header().Set("Allow", "GET, DELETE")
	default:
		resp.Header().Set("Allow", "GET, POST")
	}
	h.sendResponse(resp, http.StatusMethodNotAllowed, &ErrorResponse{
		Error: errors.Errorf("invalid request method: %s", req.Method).Error(),
	})
}

// submitter picks the local identity that submits on behalf of this console.
func (h *HTTPHandler) submitter(mspID string) (identity.MSPSigner, error) {
	for _, id := range h.identities {
		if mspID == "" || id.MSPID() == mspID {
			return id, nil
		}
	}
	if mspID == "" {
		return nil, &approval.ValidationError{Msg: "this console holds no signing identity"}
	}
	return nil, &approval.ValidationError{Msg: "no local identity for " + mspID}
}

func (h *HTTPHandler) decodeBody(resp http.ResponseWriter, req *http.Request, schema *gojsonschema.Schema, out interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		h.sendResponse(resp, http.StatusBadRequest, &ErrorResponse{Error: errors.Wrap(err, "failed to read request body").Error()})
		return false
	}
	if err := validate(schema, body); err != nil {
		h.sendResponse(resp, http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, out); err != nil {
		h.sendResponse(resp, http.StatusBadRequest, &ErrorResponse{Error: errors.Wrap(err, "invalid request body").Error()})
		return false
	}
	return true
}

func (h *HTTPHandler) respond(resp http.ResponseWriter, r *approval.Request, err error) {
	if err != nil {
		h.sendError(resp, err)
		return
	}
	h.sendResponse(resp, http.StatusOK, r)
}

// StatusFor maps an error to the HTTP status reported for it.
func StatusFor(err error) int {
	var (
		rejected *ledger.RejectedError
		signing  *ledger.SigningError
		leader   *ledger.LeaderUnavailableError
	)
	switch {
	case approval.IsValidation(err):
		return http.StatusBadRequest
	case store.IsNotFound(err):
		return http.StatusNotFound
	case approval.IsStale(err):
		return http.StatusConflict
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &signing):
		return http.StatusBadGateway
	case errors.As(err, &leader):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) sendError(resp http.ResponseWriter, err error) {
	h.sendErrorFor(resp, err, "")
}

func (h *HTTPHandler) sendErrorFor(resp http.ResponseWriter, err error, txID string) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Errorf("Request failed: %+v", err)
	} else {
		h.logger.Debugf("Request failed with %d: %s", code, err)
	}
	h.sendResponse(resp, code, &ErrorResponse{Error: err.Error(), TxID: txID})
}

func (h *HTTPHandler) sendResponse(resp http.ResponseWriter, code int, content interface{}) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	if err := json.NewEncoder(resp).Encode(content); err != nil {
		h.logger.Errorf("failed to encode response, err: %s", err)
	}
}
