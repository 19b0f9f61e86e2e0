package ledger

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type rpcServerRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewRPCHandler exposes svc over JSON-RPC at POST /.
func NewRPCHandler(svc Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &rpcHandler{svc: svc, logger: logger}
	router.POST("/", h.serve)
	return router
}

func (h *rpcHandler) serve(c *gin.Context) {
	var req rpcServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: CodeParseError, Message: err.Error()}})
		return
	}

	result, rerr := h.dispatch(c, &req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rerr != nil {
		h.logger.Debug("rpc call failed",
			zap.String("method", req.Method),
			zap.Int("code", rerr.Code),
			zap.String("message", rerr.Message))
		resp.Error = rerr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &rpcError{Code: CodeInternal, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *rpcHandler) dispatch(c *gin.Context, req *rpcServerRequest) (interface{}, *rpcError) {
	ctx := c.Request.Context()

	switch req.Method {
	case MethodGetCapability:
		var id string
		if err := bindParams(req.Params, &id); err != nil {
			return nil, err
		}
		capability, err := h.svc.GetCapability(ctx, id)
		return capability, toRPCError(err)

	case MethodDevInspect:
		var kind []byte
		var sender string
		if err := bindParams(req.Params, &kind, &sender); err != nil {
			return nil, err
		}
		tx, err := DecodeKind(kind)
		if err != nil {
			return nil, toRPCError(err)
		}
		res, err := h.svc.DevInspect(ctx, tx, sender)
		return res, toRPCError(err)

	case MethodExecuteTransaction:
		var txBytes, sig []byte
		if err := bindParams(req.Params, &txBytes, &sig); err != nil {
			return nil, err
		}
		digest, err := h.svc.ExecuteTransaction(ctx, txBytes, sig)
		if err != nil {
			return nil, toRPCError(err)
		}
		return executeResult{Digest: digest}, nil

	case MethodWaitForTransaction:
		var digest string
		if err := bindParams(req.Params, &digest); err != nil {
			return nil, err
		}
		fx, err := h.svc.WaitForTransaction(ctx, digest)
		return fx, toRPCError(err)
	}

	return nil, &rpcError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
}

// bindParams decodes positional params into dst, requiring an exact count.
func bindParams(params []json.RawMessage, dst ...interface{}) *rpcError {
	if len(params) != len(dst) {
		return &rpcError{Code: CodeInvalidParams,
			Message: fmt.Sprintf("expected %d params, got %d", len(dst), len(params))}
	}
	for i, p := range params {
		if err := json.Unmarshal(p, dst[i]); err != nil {
			return &rpcError{Code: CodeInvalidParams, Message: fmt.Sprintf("param %d: %v", i, err)}
		}
	}
	return nil
}

func toRPCError(err error) *rpcError {
	if err == nil {
		return nil
	}
	return &rpcError{Code: errorCode(err), Message: err.Error()}
}
