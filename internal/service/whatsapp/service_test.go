package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/pkg/clients/anthropic"
	client "github.com/mamadbah2/buildmart/pkg/clients/whatsapp"
)

type sentMessage struct {
	to      string
	body    string
	buttons []client.Button
}

type fakeClient struct {
	sent []sentMessage
	err  error
}

func (f *fakeClient) SendTextMessage(_ context.Context, req client.SendTextMessageRequest) (*client.SendMessageResponse, error) {
	f.sent = append(f.sent, sentMessage{to: req.To, body: req.Body})
	return &client.SendMessageResponse{}, f.err
}

func (f *fakeClient) SendButtonMessage(_ context.Context, req client.SendButtonMessageRequest) (*client.SendMessageResponse, error) {
	f.sent = append(f.sent, sentMessage{to: req.To, body: req.Body, buttons: req.Buttons})
	return &client.SendMessageResponse{}, f.err
}

func (f *fakeClient) last(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type phoneBook map[string]models.Profile

func (p phoneBook) GetProfileByPhone(_ context.Context, phone string) (models.Profile, error) {
	profile, ok := p[phone]
	if !ok {
		return models.Profile{}, models.ErrNotFound
	}
	return profile, nil
}

type fakeResponder struct {
	offers    []models.Offer
	responses []models.RespondRequest
	requestID string
	err       error
}

func (f *fakeResponder) ListOffers(context.Context, models.Actor) ([]models.Offer, error) {
	return f.offers, nil
}

func (f *fakeResponder) RespondToOffer(_ context.Context, _ models.Actor, requestID string, in models.RespondRequest) (models.RotationResult, error) {
	if f.err != nil {
		return models.RotationResult{}, f.err
	}
	f.requestID = requestID
	f.responses = append(f.responses, in)
	res := models.RotationResult{Request: models.DeliveryRequest{ID: requestID, PickupAddress: "Yard 4", DropoffAddress: "Site B"}}
	if in.Response == models.ResponseAccept {
		res.Delivery = &models.Delivery{TrackingNumber: "TRK-20240603-ABC123"}
	}
	return res, nil
}

type fakeClassifier struct {
	result anthropic.Classification
	calls  int
}

func (f *fakeClassifier) ClassifyOfferReply(context.Context, string, string) (anthropic.Classification, error) {
	f.calls++
	return f.result, nil
}

func offer(id string) models.Offer {
	expires := time.Date(2024, 6, 3, 9, 5, 0, 0, time.UTC)
	return models.Offer{
		Request: models.DeliveryRequest{ID: id, PickupAddress: "Yard 4", DropoffAddress: "Site B", MaterialSummary: "cement", WeightKg: 2000},
		Entry:   models.RotationEntry{DistanceKm: 3.2, ExpiresAt: &expires},
	}
}

const providerPhone = "27820000001"

func newService(t *testing.T, classifier anthropic.Client) (*MetaWhatsAppService, *fakeClient, *fakeResponder) {
	t.Helper()
	wa := &fakeClient{}
	responder := &fakeResponder{}
	profiles := phoneBook{
		providerPhone: {ID: "prov-1", Role: models.RoleDeliveryProvider, Phone: providerPhone},
		"27820000002": {ID: "builder-1", Role: models.RoleBuilder},
	}
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{VerifyToken: "secret"}, wa, profiles, classifier, nil)
	svc.SetResponder(responder)
	return svc, wa, responder
}

func textMessage(id, from, body string) models.WebhookPayload {
	return models.WebhookPayload{Entry: []models.WebhookEntry{{Changes: []models.WebhookChange{{
		Value: models.WebhookValue{Messages: []models.InboundMessage{{
			ID: id, From: from, Type: "text", Text: &models.TextContent{Body: body},
		}}},
	}}}}}
}

func TestVerifyWebhookToken(t *testing.T) {
	svc, _, _ := newService(t, nil)

	challenge, err := svc.VerifyWebhookToken("subscribe", "secret", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", challenge)

	_, err = svc.VerifyWebhookToken("subscribe", "wrong", "42")
	assert.Error(t, err)
	_, err = svc.VerifyWebhookToken("unsubscribe", "secret", "42")
	assert.Error(t, err)
	_, err = svc.VerifyWebhookToken("", "", "")
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	svc := NewMetaWhatsAppService(config.WhatsAppConfig{AppSecret: "app-secret"}, nil, phoneBook{}, nil, nil)
	assert.NoError(t, svc.VerifySignature(valid, body))
	assert.Error(t, svc.VerifySignature(valid, []byte(`{"object":"tampered"}`)))
	assert.Error(t, svc.VerifySignature(strings.TrimPrefix(valid, "sha256="), body))
	assert.Error(t, svc.VerifySignature("sha256=not-hex", body))
	assert.Error(t, svc.VerifySignature("", body))

	unconfigured := NewMetaWhatsAppService(config.WhatsAppConfig{}, nil, phoneBook{}, nil, nil)
	assert.Error(t, unconfigured.VerifySignature(valid, body))
}

func TestAcceptByShortRef(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("ab12cd34-0000-0000-0000-000000000000"), offer("ff00ff00-0000-0000-0000-000000000000")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", "+27 82 000 0001", "ACCEPT AB12CD34")))

	assert.Equal(t, "ab12cd34-0000-0000-0000-000000000000", responder.requestID)
	require.Len(t, responder.responses, 1)
	assert.Equal(t, models.ResponseAccept, responder.responses[0].Response)
	msg := wa.last(t)
	assert.Equal(t, providerPhone, msg.to)
	assert.Contains(t, msg.body, "TRK-20240603-ABC123")
}

func TestDeclineByButtonWithReason(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("req-1")}

	payload := models.WebhookPayload{Entry: []models.WebhookEntry{{Changes: []models.WebhookChange{{
		Value: models.WebhookValue{Messages: []models.InboundMessage{{
			ID: "m1", From: providerPhone, Type: "interactive",
			Interactive: &models.InteractiveContent{Type: "button_reply", ButtonReply: &models.ReplyChoice{ID: "decline:req-1", Title: "Decline"}},
		}}},
	}}}}}
	require.NoError(t, svc.HandleWebhook(context.Background(), payload))

	require.Len(t, responder.responses, 1)
	assert.Equal(t, models.ResponseDecline, responder.responses[0].Response)
	assert.Contains(t, wa.last(t).body, "declined")

	// Meta redelivers the same message id; it is handled once.
	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.Len(t, responder.responses, 1)
}

func TestBareAcceptNeedsSingleOffer(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("req-1"), offer("req-2")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", providerPhone, "yes")))
	assert.Empty(t, responder.responses)
	assert.Contains(t, wa.last(t).body, "several open offers")

	responder.offers = nil
	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m2", providerPhone, "accept")))
	assert.Contains(t, wa.last(t).body, "no open offers")
}

func TestUnknownRefAndLapsedOffer(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("req-1")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", providerPhone, "accept zz99")))
	assert.Contains(t, wa.last(t).body, "No open offer matches ZZ99")

	responder.err = models.ErrOfferNotActive
	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m2", providerPhone, "accept")))
	assert.Contains(t, wa.last(t).body, "no longer available")

	responder.err = errors.New("db down")
	assert.Error(t, svc.HandleWebhook(context.Background(), textMessage("m3", providerPhone, "accept")))
}

func TestFreeTextClassification(t *testing.T) {
	classifier := &fakeClassifier{result: anthropic.Classification{Intent: anthropic.IntentDecline, Reason: "truck in the workshop"}}
	svc, _, responder := newService(t, classifier)
	responder.offers = []models.Offer{offer("req-1")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", providerPhone, "sorry cannot today, truck in the workshop")))

	assert.Equal(t, 1, classifier.calls)
	require.Len(t, responder.responses, 1)
	assert.Equal(t, models.ResponseDecline, responder.responses[0].Response)
	assert.Equal(t, "truck in the workshop", responder.responses[0].Reason)
}

func TestFreeTextWithoutClassifierGetsHelp(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("req-1")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", providerPhone, "how heavy is it?")))
	assert.Empty(t, responder.responses)
	assert.Contains(t, wa.last(t).body, "ACCEPT <ref>")
}

func TestOffersCommand(t *testing.T) {
	svc, wa, responder := newService(t, nil)
	responder.offers = []models.Offer{offer("ab12cd34-0000")}

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", providerPhone, "offers")))
	body := wa.last(t).body
	assert.Contains(t, body, "AB12CD34: Yard 4 -> Site B (3.2 km away)")
}

func TestUnregisteredAndNonProviderSenders(t *testing.T) {
	svc, wa, responder := newService(t, nil)

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m1", "27829999999", "accept")))
	assert.Contains(t, wa.last(t).body, "not registered")

	require.NoError(t, svc.HandleWebhook(context.Background(), textMessage("m2", "27820000002", "accept")))
	assert.Contains(t, wa.last(t).body, "Manage orders")
	assert.Empty(t, responder.responses)
}

func TestNotifyOfferUsesButtons(t *testing.T) {
	svc, wa, _ := newService(t, nil)
	o := offer("ab12cd34-0000")

	err := svc.NotifyOffer(context.Background(), models.Profile{Phone: "+27 82 000 0001"}, o.Request, o.Entry)
	require.NoError(t, err)

	msg := wa.last(t)
	assert.Equal(t, providerPhone, msg.to)
	assert.Contains(t, msg.body, "Delivery request AB12CD34")
	assert.Contains(t, msg.body, "Load: cement (2000 kg)")
	assert.Contains(t, msg.body, "Answer by 09:05")
	require.Len(t, msg.buttons, 2)
	assert.Equal(t, "accept:ab12cd34-0000", msg.buttons[0].ID)
}

func TestBuilderNotices(t *testing.T) {
	svc, wa, _ := newService(t, nil)
	ctx := context.Background()
	builder := models.Profile{Phone: "27820000002"}
	req := models.DeliveryRequest{ID: "ab12cd34-0000", PickupAddress: "Yard 4", DropoffAddress: "Site B"}

	require.NoError(t, svc.NotifyAssigned(ctx, builder, req, models.Profile{FullName: "Sipho", CompanyName: "Haul Co"}, models.Delivery{TrackingNumber: "TRK-1"}))
	assert.Contains(t, wa.last(t).body, "accepted by Sipho (Haul Co)")

	require.NoError(t, svc.NotifyNoProvider(ctx, builder, req))
	assert.Contains(t, wa.last(t).body, "No delivery provider accepted request AB12CD34")

	// Profiles without a phone number are skipped.
	before := len(wa.sent)
	require.NoError(t, svc.NotifyNoProvider(ctx, models.Profile{}, req))
	assert.Len(t, wa.sent, before)
}

func TestSendWithoutClient(t *testing.T) {
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{}, nil, phoneBook{}, nil, nil)

	assert.NoError(t, svc.Send(context.Background(), models.Notification{To: "1", Body: "x"}))
	assert.Error(t, svc.SendOutbound(context.Background(), models.OutboundMessageRequest{To: "1", Message: "x"}))
}

func TestRecentIDsEvictsOldest(t *testing.T) {
	r := newRecentIDs(2)
	assert.True(t, r.add("a"))
	assert.True(t, r.add("b"))
	assert.False(t, r.add("a"))
	assert.True(t, r.add("c"))
	assert.True(t, r.add("a"))
	assert.True(t, r.add(""))
	assert.True(t, r.add(""))
}

func TestWebhookForAnotherNumberIsIgnored(t *testing.T) {
	wa := &fakeClient{}
	responder := &fakeResponder{offers: []models.Offer{offer("req-1")}}
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{PhoneNumberID: "1001"}, wa, phoneBook{
		providerPhone: {ID: "prov-1", Role: models.RoleDeliveryProvider},
	}, nil, nil)
	svc.SetResponder(responder)

	payload := textMessage("m1", providerPhone, "accept")
	payload.Entry[0].Changes[0].Value.Metadata.PhoneNumberID = "2002"
	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.Empty(t, responder.responses)
	assert.Empty(t, wa.sent)

	payload = textMessage("m2", providerPhone, "accept")
	payload.Entry[0].Changes[0].Value.Metadata.PhoneNumberID = "1001"
	require.NoError(t, svc.HandleWebhook(context.Background(), payload))
	assert.Len(t, responder.responses, 1)
}
