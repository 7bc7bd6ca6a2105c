package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/llm"
)

// Textos que reemplazan la respuesta cuando el turno falla.
const (
	ApologyUnavailable = "Sorry, the AI service is currently unavailable. Please try again later."
	ApologyGeneric     = "Sorry, something went wrong while generating a reply. Please try again later."
)

var (
	ErrRelayServiceNotConfigured = errors.New("relay service not configured")
	ErrRateLimited               = errors.New("rate limited")

	errFirstChunkTimeout = errors.New("no chunk before first chunk timeout")
	errMaxDuration       = errors.New("stream exceeded max duration")
	errClientGone        = errors.New("client went away")
)

// EventSink es la conexion del cliente que origino el turno. Send devuelve
// domain.ErrConnectionClosed cuando el cliente ya no esta.
type EventSink interface {
	Send(event domain.StreamEvent) error
	Close() error
}

type RelayOptions struct {
	FirstChunkTimeout time.Duration
	MaxDuration       time.Duration
	FinalizeTimeout   time.Duration
}

// RelayService orquesta un turno: persiste, abre el stream upstream, reenvia
// cada chunk al cliente y deja el mensaje del asistente finalizado.
type RelayService struct {
	logger  *zap.Logger
	chats   *ChatService
	client  llm.Client
	catalog *llm.Catalog
	limiter TurnRateLimiter
	opts    RelayOptions
}

func NewRelayService(
	logger *zap.Logger,
	chats *ChatService,
	client llm.Client,
	catalog *llm.Catalog,
	limiter TurnRateLimiter,
	opts RelayOptions,
) *RelayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = llm.DefaultCatalog()
	}
	if opts.FirstChunkTimeout <= 0 {
		opts.FirstChunkTimeout = 30 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 5 * time.Minute
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 5 * time.Second
	}
	return &RelayService{
		logger:  logger,
		chats:   chats,
		client:  client,
		catalog: catalog,
		limiter: limiter,
		opts:    opts,
	}
}

type turnState string

const (
	stateCreated       turnState = "created"
	stateUserPersisted turnState = "user_persisted"
	stateStreamOpened  turnState = "stream_opened"
	stateRelaying      turnState = "relaying"
	stateFinalizing    turnState = "finalizing"
	stateCompleted     turnState = "completed"
	stateFailed        turnState = "failed"
)

// turn es el estado transitorio de un turno; nunca se persiste como tal.
type turn struct {
	state     turnState
	modelID   string
	assistant domain.Message
	text      strings.Builder
	model     *domain.ModelIdentity
	logger    *zap.Logger
}

func (t *turn) transition(next turnState, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("from", string(t.state)), zap.String("to", string(next))}, fields...)
	t.logger.Info("turn state", fields...)
	t.state = next
}

// StreamTurn ejecuta un turno en streaming. Solo devuelve error si el turno
// no llego a empezar (nada se envio por sink); a partir del evento init los
// fallos se reportan al cliente y quedan persistidos como disculpa.
func (s *RelayService) StreamTurn(ctx context.Context, chatID string, req domain.TurnRequest, sink EventSink) error {
	t, userMsg, err := s.begin(ctx, chatID, req)
	if err != nil {
		return err
	}
	defer sink.Close()

	started := domain.InitEvent{UserMessage: userMsg, AssistantMessageID: t.assistant.ID}
	if err := sink.Send(domain.StreamEvent{Type: domain.EventInit, Data: started}); err != nil {
		_, _ = s.abandon(ctx, t, err)
		return nil
	}

	req.Stream = true
	_, _ = s.run(ctx, t, req, sink)
	return nil
}

// CompleteTurn es el modo bloqueante. Un fallo del proveedor nunca es error:
// el mensaje del asistente lleva la disculpa.
func (s *RelayService) CompleteTurn(ctx context.Context, chatID string, req domain.TurnRequest) (domain.TurnResult, error) {
	t, userMsg, err := s.begin(ctx, chatID, req)
	if err != nil {
		return domain.TurnResult{}, err
	}

	req.Stream = false
	assistant, _ := s.run(ctx, t, req, discardSink{})
	return domain.TurnResult{UserMessage: userMsg, AssistantMessage: assistant}, nil
}

// begin valida la peticion y deja persistidos el mensaje del usuario y el
// placeholder del asistente.
func (s *RelayService) begin(ctx context.Context, chatID string, req domain.TurnRequest) (*turn, domain.Message, error) {
	if s == nil || s.chats == nil || s.client == nil {
		return nil, domain.Message{}, ErrRelayServiceNotConfigured
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, domain.Message{}, fmt.Errorf("%w: content required", domain.ErrInvalidInput)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, domain.Message{}, err
	}
	model, err := s.catalog.Resolve(req.ModelID)
	if err != nil {
		return nil, domain.Message{}, err
	}
	if s.limiter != nil && !s.limiter.Allow(chat.UserID) {
		return nil, domain.Message{}, ErrRateLimited
	}

	t := &turn{
		state:   stateCreated,
		modelID: model.ID,
		model:   &domain.ModelIdentity{ID: model.ID, Name: model.Name},
		logger:  s.logger.With(zap.String("chat_id", chat.ID), zap.String("model", model.ID)),
	}

	userMsg, err := s.chats.SaveUserMessage(ctx, chat.ID, req.Content)
	if err != nil {
		t.transition(stateFailed, zap.Error(err))
		return nil, domain.Message{}, err
	}
	t.transition(stateUserPersisted, zap.String("user_message_id", userMsg.ID))

	placeholder, err := s.chats.OpenAssistantMessage(ctx, chat.ID, t.model)
	if err != nil {
		t.transition(stateFailed, zap.Error(err))
		return nil, domain.Message{}, err
	}
	t.assistant = placeholder
	t.logger = t.logger.With(zap.String("assistant_message_id", placeholder.ID))
	t.transition(stateStreamOpened)
	return t, userMsg, nil
}

// run consume el stream upstream y finaliza el turno. Devuelve el mensaje del
// asistente tal como quedo y la causa si el turno fallo.
func (s *RelayService) run(ctx context.Context, t *turn, req domain.TurnRequest, sink EventSink) (domain.Message, error) {
	if err := s.client.Probe(ctx); err != nil {
		return s.fail(ctx, t, sink, err)
	}

	maxCtx, cancelMax := context.WithTimeoutCause(ctx, s.opts.MaxDuration, errMaxDuration)
	defer cancelMax()
	upCtx, cancel := context.WithCancelCause(maxCtx)
	defer cancel(nil)

	stopFirstChunk := func() bool { return false }
	if req.Stream {
		timer := time.AfterFunc(s.opts.FirstChunkTimeout, func() { cancel(errFirstChunkTimeout) })
		stopFirstChunk = timer.Stop
	}
	defer stopFirstChunk()

	stream, err := s.client.Stream(upCtx, llm.Request{Content: req.Content, ModelID: t.modelID, Stream: req.Stream})
	if err != nil {
		return s.upstreamFailed(ctx, upCtx, t, sink, err)
	}
	defer stream.Close()
	stopClose := context.AfterFunc(upCtx, func() { _ = stream.Close() })
	defer stopClose()

	t.transition(stateRelaying)
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.upstreamFailed(ctx, upCtx, t, sink, err)
		}
		stopFirstChunk()

		t.text.WriteString(chunk.Delta)
		if chunk.Model != nil {
			t.model = chunk.Model
		}
		update := domain.UpdateEvent{DeltaText: chunk.Delta, ModelIdentity: chunk.Model}
		if err := sink.Send(domain.StreamEvent{Type: domain.EventUpdate, Data: update}); err != nil {
			cancel(errClientGone)
			return s.abandon(ctx, t, err)
		}
	}

	if t.text.Len() == 0 {
		return s.fail(ctx, t, sink, fmt.Errorf("%w: empty completion", llm.ErrProviderProtocol))
	}
	return s.complete(ctx, t, sink)
}

// upstreamFailed distingue la desconexion del cliente de un fallo del proveedor
// o de un timeout propio.
func (s *RelayService) upstreamFailed(ctx, upCtx context.Context, t *turn, sink EventSink, err error) (domain.Message, error) {
	if ctx.Err() != nil {
		return s.abandon(ctx, t, fmt.Errorf("%w: %v", domain.ErrConnectionClosed, context.Cause(ctx)))
	}
	if cause := context.Cause(upCtx); cause != nil && !errors.Is(err, cause) {
		err = fmt.Errorf("%w: %v", cause, err)
	}
	return s.fail(ctx, t, sink, err)
}

func (s *RelayService) complete(ctx context.Context, t *turn, sink EventSink) (domain.Message, error) {
	t.transition(stateFinalizing)
	msg, err := s.finalize(ctx, t, t.text.String(), domain.MessageStatusComplete, ApologyGeneric)
	if err != nil {
		_ = sink.Send(domain.StreamEvent{Type: domain.EventError, Data: domain.ErrorEvent{Message: ApologyGeneric}})
		t.transition(stateFailed, zap.Error(err))
		return msg, err
	}
	if err := sink.Send(domain.StreamEvent{Type: domain.EventDone, Data: struct{}{}}); err != nil {
		t.logger.Debug("done event not delivered", zap.Error(err))
	}
	t.transition(stateCompleted, zap.Int("chars", t.text.Len()))
	return msg, nil
}

// fail persiste el texto parcial, o la disculpa si no hubo texto, y avisa al cliente.
func (s *RelayService) fail(ctx context.Context, t *turn, sink EventSink, cause error) (domain.Message, error) {
	t.transition(stateFinalizing)
	apology := apologyFor(cause)
	content := t.text.String()
	if content == "" {
		content = apology
	}
	msg, err := s.finalize(ctx, t, content, domain.MessageStatusFailed, apology)
	if err != nil {
		t.logger.Error("persist failed turn", zap.Error(err))
	}
	_ = sink.Send(domain.StreamEvent{Type: domain.EventError, Data: domain.ErrorEvent{Message: apology}})
	t.transition(stateFailed, zap.Error(cause))
	return msg, cause
}

// abandon finaliza sin cliente: nada se envia, pero el mensaje no queda pendiente.
func (s *RelayService) abandon(ctx context.Context, t *turn, cause error) (domain.Message, error) {
	t.transition(stateFinalizing)
	content, status := t.text.String(), domain.MessageStatusComplete
	if content == "" {
		content, status = ApologyGeneric, domain.MessageStatusFailed
	}
	msg, err := s.finalize(ctx, t, content, status, ApologyGeneric)
	if err != nil {
		t.logger.Error("persist abandoned turn", zap.Error(err))
	}
	t.transition(stateFailed, zap.Error(cause), zap.Int("chars", t.text.Len()))
	return msg, cause
}

// finalize es la escritura del resultado. Usa un contexto separado del
// request para que una desconexion no impida persistir. Si falla, intenta una
// sola vez dejar la disculpa con estado failed: el placeholder nunca debe
// quedar vacio y pendiente. El error original se devuelve igual.
func (s *RelayService) finalize(ctx context.Context, t *turn, content, status, apology string) (domain.Message, error) {
	msg, err := s.writeResult(ctx, t, content, status)
	if err == nil {
		return msg, nil
	}
	t.logger.Warn("finalize assistant message failed, storing apology", zap.Error(err))

	msg, retryErr := s.writeResult(ctx, t, apology, domain.MessageStatusFailed)
	if retryErr != nil {
		t.logger.Error("store apology after failed finalize", zap.Error(retryErr))
		msg = t.assistant
		msg.Content = apology
		msg.Metadata = &domain.MessageMetadata{Status: domain.MessageStatusFailed, Model: t.model}
	}
	return msg, err
}

func (s *RelayService) writeResult(ctx context.Context, t *turn, content, status string) (domain.Message, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FinalizeTimeout)
	defer cancel()
	return s.chats.FinalizeAssistantMessage(fctx, t.assistant, content, t.model, status)
}

func apologyFor(err error) string {
	if errors.Is(err, llm.ErrProviderUnavailable) || errors.Is(err, errFirstChunkTimeout) {
		return ApologyUnavailable
	}
	return ApologyGeneric
}

type discardSink struct{}

func (discardSink) Send(domain.StreamEvent) error { return nil }
func (discardSink) Close() error                  { return nil }
