package services

import (
	"context"
	stderrors "errors"
	"io"
	"strings"

	"canvassync/application/ports"
	"canvassync/application/streaming"
	"canvassync/domain/config"
	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/domain/events"
	"canvassync/pkg/errors"
	"canvassync/pkg/observability"

	"go.uber.org/zap"
)

// ErrorAnswerText replaces the answer of a node whose stream failed
const ErrorAnswerText = "Sorry, something went wrong while generating this answer."

// AnswerService streams AI answers into canvas nodes
type AnswerService struct {
	streamer ports.AnswerStreamer
	rules    *config.DomainConfig
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewAnswerService creates a new answer service
func NewAnswerService(
	streamer ports.AnswerStreamer,
	rules *config.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *AnswerService {
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerService{
		streamer: streamer,
		rules:    rules,
		logger:   logger,
		metrics:  metrics,
	}
}

// StreamIntoNode asks question and streams the answer into a chat node.
// The node shows live prose and preview while chunks arrive; the distilled
// summary and full answer are persisted once the stream ends. On a stream
// failure the node shows ErrorAnswerText and the error is returned.
func (s *AnswerService) StreamIntoNode(
	ctx context.Context,
	ctrl *MutationController,
	nodeID valueobjects.NodeID,
	question, contextText string,
) (streaming.Result, error) {
	placeholder := streaming.PreviewPlaceholder
	empty := ""
	if _, err := ctrl.PatchLocal(nodeID, ports.NodePatch{SummaryAnswer: &placeholder, FullAnswer: &empty}); err != nil {
		return streaming.Result{}, err
	}

	stream, err := s.streamer.StreamAnswer(ctx, ports.AnswerRequest{Question: question, Context: contextText})
	if err != nil {
		return streaming.Result{}, s.fail(ctx, ctrl, nodeID, err)
	}
	defer stream.Close()

	d := streaming.NewDistiller(s.rules)
	for {
		chunk, err := stream.Recv()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return streaming.Result{}, s.fail(ctx, ctrl, nodeID, err)
		}

		upd := d.Write(chunk)
		if _, err := ctrl.PatchLocal(nodeID, ports.NodePatch{FullAnswer: &upd.Prose, SummaryAnswer: &upd.Preview}); err != nil {
			// node was deleted mid-stream
			s.logger.Debug("Answer target disappeared", zap.String("node_id", nodeID.String()))
			s.metrics.Distillation("abandoned")
			return streaming.Result{}, err
		}
		current := ctrl.ResolveNodeID(nodeID).String()
		ctrl.announce(ctx, events.TypeAnswerProgress, func(base events.BaseEvent) events.DomainEvent {
			return events.AnswerProgress{
				BaseEvent: base,
				NodeID:    current,
				Prose:     upd.Prose,
				Preview:   upd.Preview,
			}
		})
	}

	res := d.Finish(question)
	switch {
	case res.Parsed:
		s.metrics.Distillation("parsed")
	case res.Err != nil:
		s.logger.Debug("Summary could not be parsed, using fallback",
			zap.String("node_id", nodeID.String()),
			zap.Error(res.Err))
		s.metrics.Distillation("invalid")
	default:
		s.metrics.Distillation("fallback")
	}

	patch := ports.NodePatch{
		FullAnswer:      &res.Prose,
		SummaryQuestion: &res.Summary.SummaryQuestion,
		SummaryAnswer:   &res.Summary.SummaryAnswer,
	}
	if _, _, err := ctrl.UpdateNode(ctx, nodeID, patch); err != nil {
		return res, err
	}

	completedID := ctrl.ResolveNodeID(nodeID).String()
	ctrl.announce(ctx, events.TypeAnswerCompleted, func(base events.BaseEvent) events.DomainEvent {
		return events.AnswerCompleted{
			BaseEvent:       base,
			NodeID:          completedID,
			SummaryQuestion: res.Summary.SummaryQuestion,
			SummaryAnswer:   res.Summary.SummaryAnswer,
			Parsed:          res.Parsed,
		}
	})
	return res, nil
}

func (s *AnswerService) fail(ctx context.Context, ctrl *MutationController, nodeID valueobjects.NodeID, cause error) error {
	s.metrics.Distillation("failed")
	s.logger.Warn("Answer stream failed",
		zap.String("node_id", nodeID.String()),
		zap.Error(cause))

	text := ErrorAnswerText
	if _, _, err := ctrl.UpdateNode(ctx, nodeID, ports.NodePatch{FullAnswer: &text, SummaryAnswer: &text}); err != nil {
		s.logger.Debug("Could not mark node as failed", zap.Error(err))
	}
	failedID := ctrl.ResolveNodeID(nodeID).String()
	ctrl.announce(ctx, events.TypeAnswerCompleted, func(base events.BaseEvent) events.DomainEvent {
		return events.AnswerCompleted{
			BaseEvent: base,
			NodeID:    failedID,
			Failed:    true,
		}
	})
	if errors.IsAppError(cause) {
		return cause
	}
	return errors.NewExternalError("answer stream", cause)
}

// Ask places a new chat node for question below the canvas and streams its answer into it
func (s *AnswerService) Ask(ctx context.Context, ctrl *MutationController, question string) (entities.Node, streaming.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return entities.Node{}, streaming.Result{}, errors.NewValidationError("question is required")
	}
	node, _, err := ctrl.PromoteMessage(ctx, Promotion{Question: question})
	if err != nil {
		return entities.Node{}, streaming.Result{}, err
	}
	res, err := s.StreamIntoNode(ctx, ctrl, node.ID, question, "")
	if current, ok := ctrl.Node(node.ID); ok {
		node = current
	}
	return node, res, err
}

// PromoteFromChat distils a finished chat answer and places it on the canvas
func (s *AnswerService) PromoteFromChat(ctx context.Context, ctrl *MutationController, question, answer, chatID string) (entities.Node, *Pending, error) {
	res := streaming.Distill(answer, question, s.rules)
	pr := Promotion{Question: question, Answer: res.Prose, ChatID: chatID}
	if res.Parsed {
		pr.Summary = &res.Summary
	} else {
		s.metrics.Distillation("fallback")
	}
	return ctrl.PromoteMessage(ctx, pr)
}

// CreateChildAndAnswer branches a child node off a selected passage and answers it,
// using the parent's full answer as context
func (s *AnswerService) CreateChildAndAnswer(ctx context.Context, ctrl *MutationController, parentID valueobjects.NodeID, selection string) (entities.Node, streaming.Result, error) {
	parent, ok := ctrl.Node(parentID)
	if !ok {
		return entities.Node{}, streaming.Result{}, errors.NewNotFoundError("node " + parentID.String())
	}
	child, _, err := ctrl.CreateChildNode(ctx, parent.ID, selection)
	if err != nil {
		return entities.Node{}, streaming.Result{}, err
	}
	res, err := s.StreamIntoNode(ctx, ctrl, child.ID, strings.TrimSpace(selection), parent.FullAnswer())
	if current, ok := ctrl.Node(child.ID); ok {
		child = current
	}
	return child, res, err
}
