package tracking

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/offerpath/offerpath/internal/models"
)

// URLVariables are the values substituted into offer destination
// templates and always carried as query parameters.
type URLVariables struct {
	ClickID   string
	SurveyID  string
	SessionID string
}

// BuildPixelURL builds the conversion pixel URL embedded on thank-you
// pages. Pure function: no I/O, no clock reads.
//
// Shape: base?click_id=<id>&survey_id=<id>&t=<epoch-ms>
func BuildPixelURL(base, clickID, surveyID string, at time.Time) string {
	params := url.Values{}
	params.Set("click_id", clickID)
	params.Set("survey_id", surveyID)
	params.Set("t", fmt.Sprintf("%d", at.UnixMilli()))
	return base + "?" + params.Encode()
}

// BuildOfferURL renders the offer destination URL. Template tokens
// {click_id}, {survey_id} and {session_id} are replaced first, then
// the same three values are guaranteed as query parameters even when
// the template omitted the tokens. Pure function.
func BuildOfferURL(offer *models.Offer, vars URLVariables) string {
	result := offer.DestinationTemplate

	replacements := map[string]string{
		"{click_id}":   vars.ClickID,
		"{survey_id}":  vars.SurveyID,
		"{session_id}": vars.SessionID,
	}
	for token, value := range replacements {
		result = strings.ReplaceAll(result, token, value)
	}

	u, err := url.Parse(result)
	if err != nil {
		// Template too malformed to parse; fall back to raw appension
		// so tracking parameters are never lost.
		return appendRawParams(result, vars)
	}

	q := u.Query()
	q.Set("click_id", vars.ClickID)
	q.Set("survey_id", vars.SurveyID)
	q.Set("session_id", vars.SessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func appendRawParams(raw string, vars URLVariables) string {
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	params := url.Values{}
	params.Set("click_id", vars.ClickID)
	params.Set("survey_id", vars.SurveyID)
	params.Set("session_id", vars.SessionID)
	return raw + sep + params.Encode()
}
