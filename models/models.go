package models

import "github.com/google/uuid"

// Database schema overview:
// 1. users - accounts, credit counters and their reset timestamps
// 2. refresh_tokens / permanent_tokens - cookie session tokens (hashed)
// 3. verification_tokens - hashed email verification tokens
// 4. repositories - canonical {name, url}, url unique
// 5. analyses - one document generation run with its resumable checkpoint
// 6. diagrams - uploaded or generated images recorded during the visuals stage
// 7. reports - the bound book produced by the final stage
// 8. interviews / interview_transcripts / feedbacks - interview sessions
// 9. rate_limit_entries - keyed counters used when no redis is configured

// newID fills an empty primary key. Postgres could default it with
// gen_random_uuid(), but sqlite cannot, so ids are assigned client side.
func newID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}
