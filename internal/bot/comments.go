package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"freezy-bot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxCommentRunes = 1000
	commentsShown   = 10
)

func (t *TelegramBot) startComment(ctx context.Context, message *tgbotapi.Message) {
	if _, ok := t.requireSession(ctx, message.Chat.ID, message.From.ID); !ok {
		return
	}
	t.setStep(message.From.ID, message.Chat.ID, StateComment)
	t.reply(message.Chat.ID, "Écrivez votre avis :")
}

func (t *TelegramBot) continueComment(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	body := strings.TrimSpace(message.Text)

	if body == "" {
		t.reply(chatID, "L'avis ne peut pas être vide :")
		return
	}
	if len([]rune(body)) > maxCommentRunes {
		t.reply(chatID, fmt.Sprintf("L'avis est trop long (%d caractères maximum) :", maxCommentRunes))
		return
	}
	t.setStep(userID, chatID, StateIdle)

	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}

	verdict, err := t.moderator.Moderate(ctx, body)
	if err != nil {
		t.logger.Warnw("Moderation unavailable, posting unchecked", "user_id", userID, "error", err)
	} else if verdict.Flagged {
		t.logger.Infow("Comment rejected by moderation", "user_id", userID, "categories", verdict.Categories)
		t.reply(chatID, "Votre avis ne respecte pas nos règles de publication et n'a pas été publié.")
		return
	}

	req := models.CommentRequest{
		UserID:     s.User.ID,
		AuthorName: s.User.DisplayName(),
		Body:       body,
	}
	if err := t.backend.CreateComment(ctx, s.Token, req); err != nil {
		t.logger.Warnw("Failed to post comment", "user_id", userID, "error", err)
		t.alert(chatID, err)
		return
	}
	t.reply(chatID, "Merci pour votre avis ! ✅")
}

func (t *TelegramBot) showComments(ctx context.Context, chatID, userID int64) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}
	comments, err := t.backend.ListComments(ctx, s.Token)
	if err != nil {
		t.alert(chatID, err)
		return
	}
	if len(comments) == 0 {
		t.reply(chatID, "Aucun avis pour le moment. Soyez le premier avec /avis !")
		return
	}

	sort.SliceStable(comments, func(i, j int) bool {
		ti, _ := comments[i].Created()
		tj, _ := comments[j].Created()
		return ti.After(tj)
	})
	if len(comments) > commentsShown {
		comments = comments[:commentsShown]
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var b strings.Builder
	b.WriteString("💬 Derniers avis\n")
	for i, c := range comments {
		author := c.AuthorName
		if author == "" {
			author = c.User.Nom
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, orDash(author))
		if created, ok := c.Created(); ok {
			fmt.Fprintf(&b, " (%s)", created.Format("02/01/2006"))
		}
		b.WriteString("\n" + c.Body + "\n")

		if c.User.ID != "" && c.User.ID == s.User.ID {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 Supprimer l'avis %d", i+1), callbackData(cbComment, "del", c.ID.String())),
			))
		}
	}

	msg := tgbotapi.NewMessage(chatID, b.String())
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	t.send(msg)
}

func (t *TelegramBot) handleCommentCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, id string) {
	t.answer(cq, "")
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	switch action {
	case "del":
		msg := tgbotapi.NewMessage(chatID, "Supprimer cet avis ?")
		msg.ReplyMarkup = confirmKeyboard(cbComment, "confirm", id)
		t.send(msg)

	case "confirm":
		s, ok := t.requireSession(ctx, chatID, userID)
		if !ok {
			return
		}
		if err := t.backend.DeleteComment(ctx, s.Token, id); err != nil {
			t.alert(chatID, err)
			return
		}
		t.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, "Avis supprimé."))

	case "keep":
		t.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, "L'avis est conservé."))
	}
}
