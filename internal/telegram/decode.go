package telegram

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxUpdateBytes = 1 << 20

func decodeUpdate(r *http.Request, u *tgbotapi.Update) error {
	body := io.LimitReader(r.Body, maxUpdateBytes)
	if err := json.NewDecoder(body).Decode(u); err != nil {
		return errors.Wrap(err, "decode update")
	}
	return nil
}
