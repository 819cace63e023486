package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"freezy-bot/internal/db"
	"freezy-bot/internal/models"
	"freezy-bot/internal/session"

	"github.com/gabriel-vasile/mimetype"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxPhotoBytes bounds profile photo downloads.
const maxPhotoBytes = 5 << 20

var errNotAnImage = errors.New("uploaded file is not an image")

func (t *TelegramBot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch message.CommandArguments() {
	case "payment_success":
		t.reply(chatID, "Merci pour votre paiement ! La confirmation de votre abonnement arrive dans quelques instants.")
		return
	case "payment_cancel":
		t.cancelPendingCheckout(ctx, userID)
		t.reply(chatID, "Le paiement a été annulé. Vous pouvez choisir une offre à tout moment avec /offres.")
		return
	}

	if s, ok := t.currentSession(ctx, userID); ok {
		t.reply(chatID, fmt.Sprintf("Bonjour %s ! 👋\n\n%s", s.User.DisplayName(), helpText))
		return
	}
	t.reply(chatID, "Bienvenue chez FreezyCorp ! 👋\n\nConnectez-vous avec /login ou créez un compte avec /register.\n\n"+helpText)
}

func (t *TelegramBot) startLogin(message *tgbotapi.Message) {
	t.setStep(message.From.ID, message.Chat.ID, StateLoginEmail)
	t.reply(message.Chat.ID, "Entrez votre adresse e-mail :")
}

func (t *TelegramBot) continueLogin(ctx context.Context, message *tgbotapi.Message, step string) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	switch step {
	case StateLoginEmail:
		if !validEmail(text) {
			t.reply(chatID, "Adresse e-mail invalide, réessayez :")
			return
		}
		t.setData(userID, "email", text)
		t.setStep(userID, chatID, StateLoginPassword)
		t.reply(chatID, "Entrez votre mot de passe :")

	case StateLoginPassword:
		t.forget(message)
		if text == "" {
			t.reply(chatID, "Le mot de passe est obligatoire :")
			return
		}
		email := t.data(userID, "email")
		t.setStep(userID, chatID, StateIdle)

		res, err := t.backend.Login(ctx, models.Credentials{Email: email, Password: text})
		if err != nil {
			t.logger.Warnw("Login failed", "user_id", userID, "error", err)
			t.alert(chatID, err)
			return
		}
		if !t.openSession(ctx, chatID, userID, res.Token, res.User) {
			return
		}
		t.reply(chatID, fmt.Sprintf("Connecté en tant que %s ✅", res.User.DisplayName()))
	}
}

// openSession stores a fresh session and resets the cached screens.
func (t *TelegramBot) openSession(ctx context.Context, chatID, userID int64, token string, user models.SessionUser) bool {
	err := t.store.SaveSession(ctx, &db.Session{TelegramID: userID, Token: token, User: user})
	if err != nil {
		t.logger.Errorw("Failed to save session", "user_id", userID, "error", err)
		t.reply(chatID, "Impossible d'enregistrer votre session. Veuillez réessayer.")
		return false
	}
	t.dropScreen(userID)
	t.logger.Infow("Session opened", "user_id", userID, "backend_user_id", user.ID)
	return true
}

func (t *TelegramBot) startRegister(message *tgbotapi.Message) {
	t.setStep(message.From.ID, message.Chat.ID, StateRegisterEmail)
	t.reply(message.Chat.ID, "Création de compte.\nEntrez votre adresse e-mail :")
}

func (t *TelegramBot) continueRegister(ctx context.Context, message *tgbotapi.Message, step string) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	switch step {
	case StateRegisterEmail:
		if !validEmail(text) {
			t.reply(chatID, "Adresse e-mail invalide, réessayez :")
			return
		}
		t.setData(userID, "email", text)
		t.setStep(userID, chatID, StateRegisterPassword)
		t.reply(chatID, "Choisissez un mot de passe (6 caractères minimum) :")

	case StateRegisterPassword:
		t.forget(message)
		if len([]rune(text)) < 6 {
			t.reply(chatID, "Le mot de passe doit contenir au moins 6 caractères :")
			return
		}
		t.setData(userID, "password", text)
		t.setStep(userID, chatID, StateRegisterNom)
		t.reply(chatID, "Votre nom :")

	case StateRegisterNom:
		if text == "" {
			t.reply(chatID, "Le nom est obligatoire :")
			return
		}
		t.setData(userID, "nom", text)
		t.setStep(userID, chatID, StateRegisterPrenom)
		t.reply(chatID, "Votre prénom :")

	case StateRegisterPrenom:
		if text == "" {
			t.reply(chatID, "Le prénom est obligatoire :")
			return
		}
		t.setData(userID, "prenom", text)
		t.setStep(userID, chatID, StateRegisterPhone)
		t.reply(chatID, "Votre téléphone (ou « - » pour passer) :")

	case StateRegisterPhone:
		if text == "-" {
			text = ""
		}
		reg := models.Registration{
			Email:     t.data(userID, "email"),
			Password:  t.data(userID, "password"),
			Nom:       t.data(userID, "nom"),
			Prenom:    t.data(userID, "prenom"),
			Telephone: text,
		}
		t.setStep(userID, chatID, StateIdle)

		res, err := t.backend.Register(ctx, reg)
		if err != nil {
			t.logger.Warnw("Registration failed", "user_id", userID, "error", err)
			t.alert(chatID, err)
			return
		}
		if res.Token == "" {
			t.reply(chatID, "Compte créé ✅ Connectez-vous avec /login.")
			return
		}
		if !t.openSession(ctx, chatID, userID, res.Token, res.User) {
			return
		}
		t.reply(chatID, fmt.Sprintf("Compte créé, bienvenue %s ✅\nChoisissez une offre avec /offres.", res.User.DisplayName()))
	}
}

func (t *TelegramBot) handleLogout(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	if err := t.store.DeleteSession(ctx, userID); err != nil {
		t.logger.Errorw("Failed to delete session", "user_id", userID, "error", err)
		t.reply(message.Chat.ID, "Impossible de vous déconnecter. Veuillez réessayer.")
		return
	}
	t.dropScreen(userID)
	t.logger.Infow("Session closed", "user_id", userID)
	t.reply(message.Chat.ID, "Vous êtes déconnecté.")
}

func (t *TelegramBot) startPasswordReset(message *tgbotapi.Message) {
	t.setStep(message.From.ID, message.Chat.ID, StateResetEmail)
	t.reply(message.Chat.ID, "Mot de passe oublié.\nEntrez l'adresse e-mail de votre compte :")
}

func (t *TelegramBot) continuePasswordReset(ctx context.Context, message *tgbotapi.Message, step string) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	switch step {
	case StateResetEmail:
		if !validEmail(text) {
			t.reply(chatID, "Adresse e-mail invalide, réessayez :")
			return
		}
		if err := t.backend.RequestPasswordReset(ctx, text); err != nil {
			t.setStep(userID, chatID, StateIdle)
			t.alert(chatID, err)
			return
		}
		t.setData(userID, "email", text)
		t.setStep(userID, chatID, StateResetCode)
		t.reply(chatID, "Un code vous a été envoyé par e-mail. Entrez-le :")

	case StateResetCode:
		email := t.data(userID, "email")
		if err := t.backend.VerifyResetCode(ctx, email, text); err != nil {
			t.alert(chatID, err)
			t.reply(chatID, "Entrez à nouveau le code, ou /motdepasse pour recommencer :")
			return
		}
		t.setData(userID, "code", text)
		t.setStep(userID, chatID, StateResetPassword)
		t.reply(chatID, "Code vérifié. Choisissez un nouveau mot de passe :")

	case StateResetPassword:
		t.forget(message)
		if len([]rune(text)) < 6 {
			t.reply(chatID, "Le mot de passe doit contenir au moins 6 caractères :")
			return
		}
		email, code := t.data(userID, "email"), t.data(userID, "code")
		t.setStep(userID, chatID, StateIdle)
		if err := t.backend.ResetPassword(ctx, email, code, text); err != nil {
			t.alert(chatID, err)
			return
		}
		t.reply(chatID, "Mot de passe modifié ✅ Connectez-vous avec /login.")
	}
}

func (t *TelegramBot) showProfile(ctx context.Context, chatID, userID int64) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}

	user := s.User
	fresh, err := t.backend.GetProfile(ctx, s.Token, s.User.ID)
	if err != nil {
		t.logger.Warnw("Failed to refresh profile, using stored copy", "user_id", userID, "error", err)
	} else {
		user = fresh
		if err := t.store.UpdateSessionUser(ctx, userID, fresh); err != nil {
			t.logger.Warnw("Failed to update stored profile", "user_id", userID, "error", err)
		}
	}

	msg := tgbotapi.NewMessage(chatID, profileText(user))
	msg.ReplyMarkup = profileKeyboard()
	t.send(msg)
}

func profileText(u models.SessionUser) string {
	var b strings.Builder
	b.WriteString("👤 Mon profil\n\n")
	fmt.Fprintf(&b, "Nom : %s\n", orDash(u.Nom))
	fmt.Fprintf(&b, "Prénom : %s\n", orDash(u.Prenom))
	fmt.Fprintf(&b, "E-mail : %s\n", orDash(u.Email))
	fmt.Fprintf(&b, "Téléphone : %s\n", orDash(u.Telephone))
	fmt.Fprintf(&b, "Adresse : %s\n", orDash(u.Adresse))
	fmt.Fprintf(&b, "Entreprise : %s\n", orDash(u.Entreprise))
	if u.Photo != "" {
		b.WriteString("Photo : ✅\n")
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (t *TelegramBot) handleProfileCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, field string) {
	t.answer(cq, "")
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	if action != "edit" {
		return
	}
	if _, ok := t.requireSession(ctx, chatID, userID); !ok {
		return
	}

	if field == "photo" {
		t.setStep(userID, chatID, StateProfilePhoto)
		t.reply(chatID, "Envoyez votre nouvelle photo de profil :")
		return
	}
	for _, f := range profileFields {
		if f.key == field {
			t.setStep(userID, chatID, StateProfileField)
			t.setData(userID, "field", field)
			t.reply(chatID, fmt.Sprintf("Nouvelle valeur pour « %s » :", f.label))
			return
		}
	}
}

func (t *TelegramBot) continueProfileField(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	value := strings.TrimSpace(message.Text)
	if value == "" {
		t.reply(chatID, "Valeur vide, réessayez :")
		return
	}

	var upd models.ProfileUpdate
	switch t.data(userID, "field") {
	case "nom":
		upd.Nom = value
	case "prenom":
		upd.Prenom = value
	case "telephone":
		upd.Telephone = value
	case "adresse":
		upd.Adresse = value
	case "entreprise":
		upd.Entreprise = value
	default:
		t.setStep(userID, chatID, StateIdle)
		return
	}
	t.setStep(userID, chatID, StateIdle)
	t.saveProfile(ctx, chatID, userID, upd)
}

func (t *TelegramBot) continueProfilePhoto(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	var fileID string
	switch {
	case len(message.Photo) > 0:
		// Sizes are sent smallest first.
		fileID = message.Photo[len(message.Photo)-1].FileID
	case message.Document != nil:
		fileID = message.Document.FileID
	default:
		t.reply(chatID, "Envoyez une image, ou /profil pour annuler.")
		return
	}
	t.setStep(userID, chatID, StateIdle)

	uri, err := t.photoDataURI(ctx, fileID)
	if err != nil {
		t.logger.Warnw("Failed to read profile photo", "user_id", userID, "error", err)
		if errors.Is(err, errNotAnImage) {
			t.reply(chatID, "Ce fichier n'est pas une image.")
			return
		}
		t.reply(chatID, "Impossible de récupérer la photo. Veuillez réessayer.")
		return
	}
	t.saveProfile(ctx, chatID, userID, models.ProfileUpdate{Photo: uri})
}

// photoDataURI downloads a Telegram file and encodes it as a data URI.
func (t *TelegramBot) photoDataURI(ctx context.Context, fileID string) (string, error) {
	link, err := t.sender.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(raw) > maxPhotoBytes {
		return "", fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	return dataURI(raw)
}

// dataURI sniffs the content type of raw and encodes it as base64.
func dataURI(raw []byte) (string, error) {
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s", errNotAnImage, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func (t *TelegramBot) saveProfile(ctx context.Context, chatID, userID int64, upd models.ProfileUpdate) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}
	user, err := t.backend.UpdateProfile(ctx, s.Token, s.User.ID, upd)
	if errors.Is(err, session.ErrNoUser) {
		// Bare acknowledgement: the update went through.
		user, err = s.User.Apply(upd), nil
	}
	if err != nil {
		t.logger.Warnw("Profile update failed", "user_id", userID, "error", err)
		t.alert(chatID, err)
		return
	}
	if err := t.store.UpdateSessionUser(ctx, userID, user); err != nil {
		t.logger.Warnw("Failed to update stored profile", "user_id", userID, "error", err)
	}
	msg := tgbotapi.NewMessage(chatID, "Profil mis à jour ✅\n\n"+profileText(user))
	msg.ReplyMarkup = profileKeyboard()
	t.send(msg)
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
