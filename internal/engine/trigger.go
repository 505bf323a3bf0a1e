package engine

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/extension"
	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/models"
)

// TriggerFireHandler returns the callback the Extension Supervisor invokes
// for every inbound trigger_fire RPC, implementing Trigger Intake (C9, spec
// §4.8): it authenticates the caller, resolves its subscription, honors the
// ignore_pipeline_run_events kill switch, and otherwise starts a run.
func (e *Engine) TriggerFireHandler() extension.TriggerFireHandler {
	return func(ctx context.Context, req extension.TriggerFireRequest) error {
		extensionID, ok := e.extensions.AuthenticateByKey(bearerFromContext(ctx))
		if !ok {
			return gofererr.Unauthenticated("trigger_fire: could not authenticate the calling extension")
		}

		sub, err := e.db.GetExtensionSubscription(ctx, req.NamespaceID, req.PipelineID, extensionID, req.SubscriptionID)
		if err != nil {
			return gofererr.NotFound("trigger_fire: no such subscription")
		}

		params, err := e.db.GetSystemParameters(ctx)
		if err != nil {
			return gofererr.Internal("trigger_fire: loading system parameters", err)
		}
		if params.IgnorePipelineRunEvents {
			if _, err := e.bus.Publish(ctx, events.DroppedTriggerEvent{
				NamespaceID: req.NamespaceID, PipelineID: req.PipelineID,
				ExtensionID: extensionID, SubscriptionID: sub.SubscriptionID,
				Reason: "ignore_pipeline_run_events is set",
			}); err != nil {
				e.log.Warn().Err(err).Msg("could not publish DroppedTriggerEvent event")
			}
			return nil
		}

		variables := make([]models.Variable, 0, len(req.Variables))
		for key, value := range req.Variables {
			variables = append(variables, models.Variable{
				Key: key, Value: value,
				Source: models.VariableSourceExtension, Sensitivity: models.SensitivityPrivate,
			})
		}

		initiator := models.Initiator{Kind: models.InitiatorExtension, Name: extensionID, Reason: sub.SubscriptionID}
		_, err = e.StartRun(ctx, req.NamespaceID, req.PipelineID, initiator, variables, nil)
		return err
	}
}

// bearerFromContext extracts the raw key from an incoming "authorization:
// Bearer <key>" metadata entry, matching internal/extension/client.go's
// outgoing format.
func bearerFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimPrefix(values[0], "Bearer ")
}
