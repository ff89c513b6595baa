package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/pkg/clients/anthropic"
	client "github.com/mamadbah2/buildmart/pkg/clients/whatsapp"
)

const sendTimeout = 10 * time.Second

// MessagingService describes the operations the HTTP layer can perform.
type MessagingService interface {
	VerifyWebhookToken(mode, verifyToken, challenge string) (string, error)
	VerifySignature(signature string, body []byte) error
	HandleWebhook(ctx context.Context, payload models.WebhookPayload) error
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// ProfileFinder resolves the sender of an inbound message.
type ProfileFinder interface {
	GetProfileByPhone(ctx context.Context, phone string) (models.Profile, error)
}

// Responder answers delivery offers on behalf of a provider.
type Responder interface {
	RespondToOffer(ctx context.Context, actor models.Actor, requestID string, in models.RespondRequest) (models.RotationResult, error)
	ListOffers(ctx context.Context, actor models.Actor) ([]models.Offer, error)
}

// MetaWhatsAppService is the production implementation backed by WhatsApp Cloud API.
type MetaWhatsAppService struct {
	cfg        config.WhatsAppConfig
	client     client.Client
	profiles   ProfileFinder
	responder  Responder
	classifier anthropic.Client
	seen       *recentIDs
	location   *time.Location
	logger     *zap.Logger
}

// NewMetaWhatsAppService wires a new service instance. client may be nil when
// WhatsApp is not configured; classifier may be nil to disable free-text replies.
func NewMetaWhatsAppService(cfg config.WhatsAppConfig, client client.Client, profiles ProfileFinder, classifier anthropic.Client, logger *zap.Logger) *MetaWhatsAppService {
	svc := &MetaWhatsAppService{
		cfg:        cfg,
		client:     client,
		profiles:   profiles,
		classifier: classifier,
		seen:       newRecentIDs(512),
		location:   time.UTC,
		logger:     logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// SetResponder attaches the rotation service. It is set after construction
// because rotation notifies through this service.
func (s *MetaWhatsAppService) SetResponder(r Responder) {
	s.responder = r
}

// SetLocation sets the zone used to print offer deadlines.
func (s *MetaWhatsAppService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

const helpText = "BuildMart delivery offers\n" +
	"ACCEPT <ref> - take the delivery\n" +
	"DECLINE <ref> [reason] - pass it on\n" +
	"OFFERS - list your open offers"

// VerifyWebhookToken validates the callback verification token.
func (s *MetaWhatsAppService) VerifyWebhookToken(mode, verifyToken, challenge string) (string, error) {
	if mode == "" || verifyToken == "" {
		return "", errors.New("missing mode or verify token")
	}

	if !strings.EqualFold(mode, "subscribe") {
		return "", fmt.Errorf("unsupported hub.mode %s", mode)
	}

	if verifyToken != s.cfg.VerifyToken {
		return "", errors.New("invalid verify token")
	}

	return challenge, nil
}

// VerifySignature checks the X-Hub-Signature-256 header Meta attaches to
// every webhook delivery. Without an app secret every delivery is rejected.
func (s *MetaWhatsAppService) VerifySignature(signature string, body []byte) error {
	if s.cfg.AppSecret == "" {
		return errors.New("webhook app secret not configured")
	}
	digest, ok := strings.CutPrefix(strings.TrimSpace(signature), "sha256=")
	if !ok || digest == "" {
		return errors.New("missing sha256 signature")
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return errors.New("malformed signature")
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.AppSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// HandleWebhook processes inbound webhook payloads.
func (s *MetaWhatsAppService) HandleWebhook(ctx context.Context, payload models.WebhookPayload) error {
	if len(payload.Entry) == 0 {
		return nil
	}

	var firstErr error

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if !value.ForNumber(s.cfg.PhoneNumberID) {
				s.logger.Warn("ignore webhook for another phone number", zap.String("phone_number_id", value.Metadata.PhoneNumberID))
				continue
			}
			for _, e := range value.Errors {
				s.logger.Warn("whatsapp webhook error", zap.Int("code", e.Code), zap.String("title", e.Title), zap.String("message", e.Message))
			}
			for _, st := range value.Statuses {
				if st.Status != "failed" {
					continue
				}
				fields := []zap.Field{zap.String("message_id", st.ID), zap.String("recipient", st.RecipientID)}
				if len(st.Errors) > 0 {
					fields = append(fields, zap.Int("code", st.Errors[0].Code), zap.String("reason", st.Errors[0].Title))
				}
				s.logger.Warn("whatsapp delivery failed", fields...)
			}

			for _, msg := range value.Messages {
				if !s.seen.add(msg.ID) {
					s.logger.Debug("skip redelivered message", zap.String("message_id", msg.ID))
					continue
				}
				s.logger.Debug("inbound message", zap.String("message_id", msg.ID), zap.String("sender", value.SenderName(msg.From)))
				if err := s.handleInboundMessage(ctx, msg); err != nil {
					s.logger.Error("failed to handle inbound message", zap.Error(err), zap.String("message_id", msg.ID))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		}
	}

	return firstErr
}

func (s *MetaWhatsAppService) handleInboundMessage(ctx context.Context, msg models.InboundMessage) error {
	text := extractMessageText(msg)
	if text == "" {
		s.logger.Debug("ignore message without text", zap.String("type", msg.Type))
		return nil
	}

	profile, err := s.profiles.GetProfileByPhone(ctx, models.NormalizePhone(msg.From))
	if errors.Is(err, models.ErrNotFound) {
		return s.reply(ctx, msg.From, "This number is not registered with BuildMart. Add it to your profile in the app to receive offers.")
	}
	if err != nil {
		return fmt.Errorf("look up sender: %w", err)
	}
	if profile.Role != models.RoleDeliveryProvider || s.responder == nil {
		return s.reply(ctx, msg.From, "BuildMart sends you updates here. Manage orders and deliveries in the app.")
	}
	actor := models.Actor{UserID: profile.ID, Role: profile.Role}

	cmd := models.ParseCommand(text)
	s.logger.Info("parsed inbound command",
		zap.String("from", msg.From),
		zap.String("command", string(cmd.Type)),
		zap.String("ref", cmd.Ref))

	offers, err := s.responder.ListOffers(ctx, actor)
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}

	if cmd.Type == models.CommandUnknown {
		cmd = s.classify(ctx, cmd, offers)
	}

	switch cmd.Type {
	case models.CommandAccept, models.CommandDecline:
		return s.answerOffer(ctx, msg.From, actor, cmd, offers)
	case models.CommandOffers:
		return s.reply(ctx, msg.From, formatOffers(offers))
	default:
		return s.reply(ctx, msg.From, helpText)
	}
}

// classify turns free text into accept or decline when the provider holds
// exactly one offer and a classifier is configured.
func (s *MetaWhatsAppService) classify(ctx context.Context, cmd models.Command, offers []models.Offer) models.Command {
	if s.classifier == nil || len(offers) != 1 {
		return cmd
	}
	offer := offers[0]
	result, err := s.classifier.ClassifyOfferReply(ctx, describeOffer(offer, s.location), cmd.Raw)
	if err != nil {
		s.logger.Warn("classify provider reply", zap.Error(err))
		return cmd
	}

	switch result.Intent {
	case anthropic.IntentAccept:
		return models.Command{Type: models.CommandAccept, Raw: cmd.Raw, Ref: offer.Request.ID}
	case anthropic.IntentDecline:
		var args []string
		if result.Reason != "" {
			args = strings.Fields(result.Reason)
		}
		return models.Command{Type: models.CommandDecline, Raw: cmd.Raw, Ref: offer.Request.ID, Args: args}
	}
	return cmd
}

func (s *MetaWhatsAppService) answerOffer(ctx context.Context, to string, actor models.Actor, cmd models.Command, offers []models.Offer) error {
	offer, ok := matchOffer(offers, cmd.Ref)
	if !ok {
		if len(offers) == 0 {
			return s.reply(ctx, to, formatOffers(offers))
		}
		if cmd.Ref == "" {
			return s.reply(ctx, to, "You have several open offers. Reply with the reference, e.g. ACCEPT AB12CD34.\n\n"+formatOffers(offers))
		}
		return s.reply(ctx, to, fmt.Sprintf("No open offer matches %s. Reply OFFERS to see what is open.", strings.ToUpper(cmd.Ref)))
	}

	in := models.RespondRequest{Response: models.ResponseAccept}
	if cmd.Type == models.CommandDecline {
		in = models.RespondRequest{Response: models.ResponseDecline, Reason: cmd.Reason()}
	}

	result, err := s.responder.RespondToOffer(ctx, actor, offer.Request.ID, in)
	if errors.Is(err, models.ErrOfferNotActive) {
		return s.reply(ctx, to, fmt.Sprintf("Offer %s is no longer available.", offer.Request.ShortRef()))
	}
	if err != nil {
		return fmt.Errorf("respond to offer %s: %w", offer.Request.ShortRef(), err)
	}

	if result.Delivery != nil {
		return s.reply(ctx, to, fmt.Sprintf("Confirmed. Delivery %s is yours.\nPickup: %s\nDrop-off: %s",
			result.Delivery.TrackingNumber, result.Request.PickupAddress, result.Request.DropoffAddress))
	}
	return s.reply(ctx, to, fmt.Sprintf("Offer %s declined. Thanks for letting us know.", offer.Request.ShortRef()))
}

// matchOffer finds the offer a reference points at. A bare reply matches
// when only one offer is open.
func matchOffer(offers []models.Offer, ref string) (models.Offer, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		if len(offers) == 1 {
			return offers[0], true
		}
		return models.Offer{}, false
	}
	for _, o := range offers {
		if strings.EqualFold(o.Request.ID, ref) || o.Request.ShortRef() == strings.ToUpper(ref) {
			return o, true
		}
	}
	return models.Offer{}, false
}

func formatOffers(offers []models.Offer) string {
	if len(offers) == 0 {
		return "You have no open offers right now."
	}
	var b strings.Builder
	b.WriteString("Open offers:")
	for _, o := range offers {
		fmt.Fprintf(&b, "\n%s: %s -> %s (%.1f km away)", o.Request.ShortRef(), o.Request.PickupAddress, o.Request.DropoffAddress, o.Entry.DistanceKm)
	}
	return b.String()
}

func describeOffer(o models.Offer, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delivery request %s\nPickup: %s\nDrop-off: %s", o.Request.ShortRef(), o.Request.PickupAddress, o.Request.DropoffAddress)
	if o.Request.MaterialSummary != "" {
		fmt.Fprintf(&b, "\nLoad: %s", o.Request.MaterialSummary)
	}
	if o.Request.WeightKg > 0 {
		fmt.Fprintf(&b, " (%.0f kg)", o.Request.WeightKg)
	}
	fmt.Fprintf(&b, "\nDistance to pickup: %.1f km", o.Entry.DistanceKm)
	if o.Entry.ExpiresAt != nil {
		fmt.Fprintf(&b, "\nAnswer by %s", o.Entry.ExpiresAt.In(loc).Format("15:04"))
	}
	return b.String()
}

// NotifyOffer sends a provider a new offer with accept and decline buttons.
func (s *MetaWhatsAppService) NotifyOffer(ctx context.Context, provider models.Profile, req models.DeliveryRequest, entry models.RotationEntry) error {
	body := describeOffer(models.Offer{Request: req, Entry: entry}, s.location) +
		fmt.Sprintf("\n\nReply ACCEPT %s or DECLINE %s.", req.ShortRef(), req.ShortRef())
	return s.Send(ctx, models.Notification{
		To:   provider.Phone,
		Body: body,
		Buttons: []models.ReplyButton{
			{ID: "accept:" + req.ID, Title: "Accept"},
			{ID: "decline:" + req.ID, Title: "Decline"},
		},
	})
}

// NotifyAssigned tells the builder which provider took the request.
func (s *MetaWhatsAppService) NotifyAssigned(ctx context.Context, builder models.Profile, req models.DeliveryRequest, provider models.Profile, delivery models.Delivery) error {
	name := provider.FullName
	if provider.CompanyName != "" {
		name = fmt.Sprintf("%s (%s)", provider.FullName, provider.CompanyName)
	}
	return s.Send(ctx, models.Notification{
		To: builder.Phone,
		Body: fmt.Sprintf("Delivery request %s was accepted by %s.\nTracking number: %s",
			req.ShortRef(), name, delivery.TrackingNumber),
	})
}

// NotifyNoProvider tells the builder that nobody took the request.
func (s *MetaWhatsAppService) NotifyNoProvider(ctx context.Context, builder models.Profile, req models.DeliveryRequest) error {
	return s.Send(ctx, models.Notification{
		To: builder.Phone,
		Body: fmt.Sprintf("No delivery provider accepted request %s (%s -> %s). Try again later or widen the vehicle type.",
			req.ShortRef(), req.PickupAddress, req.DropoffAddress),
	})
}

// Send delivers a notification, with reply buttons when it has any. Missing
// phone numbers and an unconfigured client are logged and skipped.
func (s *MetaWhatsAppService) Send(ctx context.Context, n models.Notification) error {
	to := models.NormalizePhone(n.To)
	if to == "" {
		s.logger.Debug("skip notification without phone number")
		return nil
	}
	if s.client == nil {
		s.logger.Debug("whatsapp disabled, notification dropped", zap.String("to", to))
		return nil
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if len(n.Buttons) > 0 {
		buttons := make([]client.Button, len(n.Buttons))
		for i, b := range n.Buttons {
			buttons[i] = client.Button{ID: b.ID, Title: b.Title}
		}
		_, err := s.client.SendButtonMessage(ctxWithTimeout, client.SendButtonMessageRequest{To: to, Body: n.Body, Buttons: buttons})
		return err
	}

	_, err := s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{To: to, Body: n.Body})
	return err
}

func (s *MetaWhatsAppService) reply(ctx context.Context, to, body string) error {
	return s.Send(ctx, models.Notification{To: to, Body: body})
}

// SendOutbound lets internal operators push quick notifications via HTTP.
func (s *MetaWhatsAppService) SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error {
	if s.client == nil {
		return errors.New("whatsapp is not configured")
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
		To:         models.NormalizePhone(req.To),
		Body:       req.Message,
		PreviewURL: req.PreviewURL,
	})
	return err
}

func extractMessageText(msg models.InboundMessage) string {
	if msg.Text != nil {
		return msg.Text.Body
	}

	if msg.Interactive != nil {
		if msg.Interactive.ButtonReply != nil {
			return msg.Interactive.ButtonReply.ID
		}
		if msg.Interactive.ListReply != nil {
			return msg.Interactive.ListReply.ID
		}
	}

	if msg.Button != nil {
		return msg.Button.Payload
	}

	return ""
}
