package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/powerauth/activationserver/internal/metrics"
	"github.com/powerauth/activationserver/internal/rpc"
	"github.com/powerauth/activationserver/internal/rpc/activationpb"
)

// registerRPCRoutes mounts one handler per RPC operation under /rpc/,
// the JSON-over-HTTP transport the facade rides since the activation
// RPC surface has no generated .proto service to register against the
// grpc.Server (see serve.go). Each handler follows the same
// decode-call-encode shape; operations whose wire contract needs the
// caller's application_key outside the JSON body read it from the
// X-Application-Key header, matching how the mobile SDK's bearer
// credential travels alongside (never inside) the ECIES envelope.
func registerRPCRoutes(mux *http.ServeMux, f *rpc.Facade, log *slog.Logger, m *metrics.Metrics) {
	handle := func(method string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc("/rpc/"+method, func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)

			start := time.Now()
			fn(w, r)
			log.Debug("rpc call", "request_id", requestID, "method", method, "duration_ms", time.Since(start).Milliseconds())
			m.ObserveRPC(method, "handled", start)
		})
	}

	handle("init_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.InitActivationRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.InitActivation(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("prepare_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.PrepareActivationRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.PrepareActivation(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("create_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.CreateActivationRequest
		if !decode(w, r, &req) {
			return
		}
		initRes, layer2, err := f.CreateActivation(r.Context(), req)
		if err != nil {
			writeJSONError(w, err)
			log.Warn("rpc error", "method", "create_activation", "error", err)
			return
		}
		respond(w, log, struct {
			Activation activationpb.InitActivationResponse       `json:"activation"`
			Layer2     activationpb.ActivationLayerTwoResponse `json:"layer2"`
		}{initRes, layer2}, nil)
	})

	handle("commit_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.CommitActivationRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.CommitActivation(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("block_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.BlockActivationRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.BlockActivation(r.Context(), req))
	})

	handle("unblock_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.UnblockActivationRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.UnblockActivation(r.Context(), req))
	})

	handle("remove_activation", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.RemoveActivationRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.RemoveActivation(r.Context(), req))
	})

	handle("get_status", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.GetStatusRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.GetStatus(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("get_activation_list", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.GetActivationListRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.GetActivationList(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("lookup_activations", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.LookupActivationsRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.LookupActivations(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("get_activation_history", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.GetActivationHistoryRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.GetActivationHistory(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("update_status_bulk", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.UpdateStatusBulkRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.UpdateStatusBulk(r.Context(), req))
	})

	handle("start_upgrade", func(w http.ResponseWriter, r *http.Request) {
		activationID := r.URL.Query().Get("activation_id")
		res, err := f.StartUpgrade(r.Context(), activationID)
		respond(w, log, res, err)
	})

	handle("commit_upgrade", func(w http.ResponseWriter, r *http.Request) {
		activationID := r.URL.Query().Get("activation_id")
		respond(w, log, struct{}{}, f.CommitUpgrade(r.Context(), activationID))
	})

	handle("create_token", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.CreateTokenRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.CreateToken(r.Context(), r.Header.Get("X-Application-Key"), req)
		respond(w, log, res, err)
	})

	handle("validate_token", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.ValidateTokenRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.ValidateToken(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("remove_token", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.RemoveTokenRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.RemoveToken(r.Context(), req))
	})

	handle("verify_signature", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.VerifySignatureRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.VerifySignature(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("verify_ecdsa_signature", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.VerifyECDSASignatureRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.VerifyECDSASignature(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("create_via_recovery", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.CreateViaRecoveryRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.CreateViaRecovery(r.Context(), r.Header.Get("X-Application-Key"), req)
		respond(w, log, res, err)
	})

	handle("vault_unlock", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.VaultUnlockRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.VaultUnlock(r.Context(), r.Header.Get("X-Application-Key"), req)
		respond(w, log, res, err)
	})

	handle("get_ecies_decryptor", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.GetEciesDecryptorRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.GetEciesDecryptorParameters(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("create_offline_signature_payload", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.CreateOfflineSignaturePayloadRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.CreateOfflineSignaturePayload(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("verify_offline_signature", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.VerifyOfflineSignatureRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.VerifyOfflineSignature(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("get_signature_audit_log", func(w http.ResponseWriter, r *http.Request) {
		var req activationpb.GetSignatureAuditLogRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := f.GetSignatureAuditLog(r.Context(), req)
		respond(w, log, res, err)
	})

	handle("get_error_code_list", func(w http.ResponseWriter, r *http.Request) {
		respond(w, log, f.GetErrorCodeListResponse(), nil)
	})

	handle("get_system_status", func(w http.ResponseWriter, r *http.Request) {
		respond(w, log, f.GetSystemStatus(), nil)
	})

	// Provisioning operations: not part of the mobile-facing activation
	// lifecycle, used instead to bootstrap a new application before any
	// device ever calls init_activation.
	handle("create_application", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string   `json:"name"`
			Roles []string `json:"roles"`
		}
		if !decode(w, r, &req) {
			return
		}
		id, err := f.CreateApplication(r.Context(), req.Name, req.Roles)
		respond(w, log, struct {
			ApplicationID string `json:"application_id"`
		}{id}, err)
	})

	handle("create_application_version", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApplicationID string `json:"application_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		v, err := f.CreateApplicationVersion(r.Context(), req.ApplicationID)
		respond(w, log, v, err)
	})

	handle("create_master_key_pair", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApplicationID string `json:"application_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.CreateMasterKeyPair(r.Context(), req.ApplicationID))
	})

	handle("create_callback_url", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApplicationID string   `json:"application_id"`
			Name          string   `json:"name"`
			URL           string   `json:"url"`
			Attributes    []string `json:"attributes"`
		}
		if !decode(w, r, &req) {
			return
		}
		respond(w, log, struct{}{}, f.CreateCallbackURL(r.Context(), req.ApplicationID, req.Name, req.URL, req.Attributes))
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, log *slog.Logger, v any, err error) {
	if err != nil {
		writeJSONError(w, err)
		log.Warn("rpc error", "error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
