package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"freezy-bot/internal/api"
	"freezy-bot/internal/booking"
	"freezy-bot/internal/db"
	"freezy-bot/internal/gpt"
	"freezy-bot/internal/models"
	"freezy-bot/internal/payment"
	"freezy-bot/internal/session"
	"freezy-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stripe/stripe-go/v72"
)

// Conversation steps for multi-message input.
const (
	StateIdle             = ""
	StateLoginEmail       = "login_email"
	StateLoginPassword    = "login_password"
	StateRegisterEmail    = "register_email"
	StateRegisterPassword = "register_password"
	StateRegisterNom      = "register_nom"
	StateRegisterPrenom   = "register_prenom"
	StateRegisterPhone    = "register_telephone"
	StateResetEmail       = "reset_email"
	StateResetCode        = "reset_code"
	StateResetPassword    = "reset_password"
	StateProfileField     = "profile_field"
	StateProfilePhoto     = "profile_photo"
	StateComment          = "comment"
)

// Backend is the FreezyCorp REST API as the bot uses it.
type Backend interface {
	booking.Backend
	Login(ctx context.Context, creds models.Credentials) (*api.LoginResult, error)
	Register(ctx context.Context, reg models.Registration) (*api.LoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	GetProfile(ctx context.Context, token, userID string) (models.SessionUser, error)
	UpdateProfile(ctx context.Context, token, userID string, upd models.ProfileUpdate) (models.SessionUser, error)
	ListOffers(ctx context.Context, token string) ([]models.Offer, error)
	CreatePaymentIntent(ctx context.Context, token, offerID string) (*models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, token string, conf models.PaymentConfirmation) error
	CancelSubscription(ctx context.Context, token, subscriptionID string) error
	CreateComment(ctx context.Context, token string, req models.CommentRequest) error
	ListComments(ctx context.Context, token string) ([]models.Comment, error)
	DeleteComment(ctx context.Context, token, commentID string) error
}

// Store persists sessions and pending checkouts.
type Store interface {
	SaveSession(ctx context.Context, s *db.Session) error
	GetSession(ctx context.Context, telegramID int64) (*db.Session, error)
	UpdateSessionUser(ctx context.Context, telegramID int64, user models.SessionUser) error
	DeleteSession(ctx context.Context, telegramID int64) error
	SaveCheckout(ctx context.Context, c *models.Checkout) error
	GetCheckout(ctx context.Context, stripeSessionID string) (*models.Checkout, error)
	UpdateCheckoutStatus(ctx context.Context, stripeSessionID string, status string) error
}

// Payments creates hosted checkouts and authenticates their webhooks.
type Payments interface {
	CreateCheckoutSession(req payment.CheckoutRequest) (string, string, error)
	VerifyWebhookSignature(payload []byte, sig string, webhookSecret string) (stripe.Event, error)
	GetWebhookSecret() string
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (gpt.Verdict, error)
}

// Sender is the part of the Telegram API the handlers talk to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// UserState is the conversation state of one Telegram user.
type UserState struct {
	TelegramID    int64
	ChatID        int64
	CurrentState  string
	TemporaryData map[string]string

	// Booking screen of the signed-in user, built lazily by /rdv.
	Screen        *booking.Screen
	ScreenToken   string
	CalendarMonth time.Time

	LastCheckoutID string
}

type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	sender     Sender
	username   string
	backend    Backend
	store      Store
	payments   Payments
	moderator  Moderator
	logger     *logger.Logger
	httpClient *http.Client
	now        func() time.Time

	userStates map[int64]*UserState
	stateMutex sync.RWMutex

	// background tracks webhook work still running.
	background sync.WaitGroup
}

func NewTelegramBot(token string, backend Backend, store Store, payments Payments, moderator Moderator, logger *logger.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Infow("Authorized on Telegram", "username", bot.Self.UserName)

	t := newTelegramBot(bot, bot.Self.UserName, backend, store, payments, moderator, logger)
	t.bot = bot
	return t, nil
}

func newTelegramBot(sender Sender, username string, backend Backend, store Store, payments Payments, moderator Moderator, logger *logger.Logger) *TelegramBot {
	return &TelegramBot{
		sender:     sender,
		username:   username,
		backend:    backend,
		store:      store,
		payments:   payments,
		moderator:  moderator,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		userStates: make(map[int64]*UserState),
	}
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	t.logger.Info("Removing any existing webhook")
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.bot.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)

	return nil
}

// handleUpdates processes incoming updates from Telegram
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go t.handleUpdate(ctx, update)
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("Recovered from panic while processing update", "update_id", update.UpdateID, "error", r)
		}
	}()

	switch {
	case update.Message != nil && update.Message.From == nil:
		// Channel posts carry no sender.
		t.logger.Debugw("Ignoring message without sender", "chat_id", update.Message.Chat.ID)
	case update.Message != nil:
		t.logger.Debugw("Received message",
			"chat_id", update.Message.Chat.ID,
			"from", update.Message.From.UserName)

		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil && update.CallbackQuery.Message == nil:
		t.logger.Debugw("Ignoring inline callback without message", "from", update.CallbackQuery.From.ID)
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	command := message.Command()
	userID := message.From.ID

	t.logger.Infow("Handling command", "command", command, "user_id", userID)

	// Any command abandons a half-finished input flow.
	t.setStep(userID, message.Chat.ID, StateIdle)

	switch command {
	case "start":
		t.handleStart(ctx, message)
	case "help":
		t.reply(message.Chat.ID, helpText)
	case "login":
		t.startLogin(message)
	case "register":
		t.startRegister(message)
	case "logout":
		t.handleLogout(ctx, message)
	case "motdepasse":
		t.startPasswordReset(message)
	case "profil":
		t.showProfile(ctx, message.Chat.ID, userID)
	case "offres":
		t.showOffers(ctx, message.Chat.ID, userID)
	case "abonnement":
		t.showSubscription(ctx, message.Chat.ID, userID)
	case "historique":
		t.showHistory(ctx, message.Chat.ID, userID)
	case "rdv":
		t.showCalendar(ctx, message.Chat.ID, userID)
	case "mesrdv":
		t.showAppointments(ctx, message.Chat.ID, userID)
	case "actualiser":
		t.refresh(ctx, message.Chat.ID, userID)
	case "avis":
		t.startComment(ctx, message)
	case "avis_liste":
		t.showComments(ctx, message.Chat.ID, userID)
	default:
		t.reply(message.Chat.ID, "Commande inconnue. Utilisez /help pour voir les commandes disponibles.")
	}
}

// handleMessage processes regular messages based on user state
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	state := t.state(userID, chatID)
	t.stateMutex.RLock()
	step := state.CurrentState
	t.stateMutex.RUnlock()

	switch step {
	case StateLoginEmail, StateLoginPassword:
		t.continueLogin(ctx, message, step)
	case StateRegisterEmail, StateRegisterPassword, StateRegisterNom, StateRegisterPrenom, StateRegisterPhone:
		t.continueRegister(ctx, message, step)
	case StateResetEmail, StateResetCode, StateResetPassword:
		t.continuePasswordReset(ctx, message, step)
	case StateProfileField:
		t.continueProfileField(ctx, message)
	case StateProfilePhoto:
		t.continueProfilePhoto(ctx, message)
	case StateComment:
		t.continueComment(ctx, message)
	default:
		t.reply(chatID, "Utilisez /help pour voir les commandes disponibles.")
	}
}

// handleCallbackQuery processes callback queries from inline keyboards
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	t.logger.Debugw("Received callback query", "user_id", cq.From.ID, "data", cq.Data)

	if cq.Message == nil {
		t.answer(cq, "")
		return
	}

	kind, action, arg := parseCallback(cq.Data)
	switch kind {
	case cbCalendar:
		t.handleCalendarCallback(ctx, cq, action, arg)
	case cbAppointment:
		t.handleAppointmentCallback(ctx, cq, action, arg)
	case cbOffer:
		t.handleOfferCallback(ctx, cq, action, arg)
	case cbSubscription:
		t.handleSubscriptionCallback(ctx, cq, action, arg)
	case cbProfile:
		t.handleProfileCallback(ctx, cq, action, arg)
	case cbComment:
		t.handleCommentCallback(ctx, cq, action, arg)
	default:
		t.answer(cq, "")
	}
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}

	done := make(chan struct{})
	go func() {
		t.background.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const helpText = `FreezyCorp : vos rendez-vous d'entretien frigorifique.

/login : se connecter
/register : créer un compte
/motdepasse : réinitialiser le mot de passe
/logout : se déconnecter
/profil : voir et modifier votre profil
/offres : voir les offres d'abonnement
/abonnement : votre abonnement actif
/historique : historique des paiements
/rdv : prendre rendez-vous
/mesrdv : vos rendez-vous
/actualiser : recharger vos données
/avis : laisser un avis
/avis_liste : voir les avis`

func (t *TelegramBot) state(userID, chatID int64) *UserState {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()

	state, ok := t.userStates[userID]
	if !ok {
		state = &UserState{
			TelegramID:    userID,
			TemporaryData: make(map[string]string),
		}
		t.userStates[userID] = state
	}
	if chatID != 0 {
		state.ChatID = chatID
	}
	return state
}

func (t *TelegramBot) setStep(userID, chatID int64, step string) {
	state := t.state(userID, chatID)
	t.stateMutex.Lock()
	state.CurrentState = step
	if step == StateIdle {
		state.TemporaryData = make(map[string]string)
	}
	t.stateMutex.Unlock()
}

func (t *TelegramBot) setData(userID int64, key, value string) {
	state := t.state(userID, 0)
	t.stateMutex.Lock()
	state.TemporaryData[key] = value
	t.stateMutex.Unlock()
}

func (t *TelegramBot) data(userID int64, key string) string {
	state := t.state(userID, 0)
	t.stateMutex.RLock()
	defer t.stateMutex.RUnlock()
	return state.TemporaryData[key]
}

// dropScreen forgets the booking screen so the next /rdv reloads it.
func (t *TelegramBot) dropScreen(userID int64) {
	t.stateMutex.Lock()
	if state, ok := t.userStates[userID]; ok {
		state.Screen = nil
		state.ScreenToken = ""
	}
	t.stateMutex.Unlock()
}

// currentSession returns the stored session when its token is still
// usable. Expired sessions are erased.
func (t *TelegramBot) currentSession(ctx context.Context, userID int64) (*db.Session, bool) {
	s, err := t.store.GetSession(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.logger.Errorw("Failed to load session", "user_id", userID, "error", err)
		return nil, false
	}
	if !session.Usable(s.Token, t.now()) {
		t.logger.Infow("Session token expired", "user_id", userID)
		if err := t.store.DeleteSession(ctx, userID); err != nil {
			t.logger.Warnw("Failed to delete expired session", "user_id", userID, "error", err)
		}
		t.dropScreen(userID)
		return nil, false
	}
	return s, true
}

// requireSession is currentSession plus the login prompt.
func (t *TelegramBot) requireSession(ctx context.Context, chatID, userID int64) (*db.Session, bool) {
	s, ok := t.currentSession(ctx, userID)
	if !ok {
		t.reply(chatID, "Vous devez être connecté. Utilisez /login ou /register.")
	}
	return s, ok
}

func (t *TelegramBot) reply(chatID int64, text string) {
	t.send(tgbotapi.NewMessage(chatID, text))
}

func (t *TelegramBot) send(c tgbotapi.Chattable) {
	if _, err := t.sender.Send(c); err != nil {
		t.logger.Errorw("Failed to send message", "error", err)
	}
}

// alert reports a failed backend call the way the modal alerts did.
func (t *TelegramBot) alert(chatID int64, err error) {
	t.reply(chatID, "⚠️ "+api.UserMessage(err))
}

// answer acknowledges a callback, optionally with a toast.
func (t *TelegramBot) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := t.sender.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		t.logger.Debugw("Failed to answer callback", "error", err)
	}
}

// forget deletes a message holding a secret the user typed.
func (t *TelegramBot) forget(message *tgbotapi.Message) {
	if _, err := t.sender.Request(tgbotapi.NewDeleteMessage(message.Chat.ID, message.MessageID)); err != nil {
		t.logger.Debugw("Failed to delete message", "error", err)
	}
}

func (t *TelegramBot) botLink(start string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", t.username, start)
}
