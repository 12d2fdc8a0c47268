package journal

const schema = `
CREATE TABLE IF NOT EXISTS session (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    resume_name TEXT NOT NULL DEFAULT '',
    candidate_name TEXT NOT NULL DEFAULT '',
    candidate_email TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    overall_performance TEXT,
    weak_points TEXT,
    improvements TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_started_at ON session(started_at);

CREATE TABLE IF NOT EXISTS round (
    session_id TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
    number INTEGER NOT NULL,
    question_id TEXT NOT NULL,
    question_text TEXT NOT NULL,
    question_type TEXT NOT NULL DEFAULT '',
    audio_bytes INTEGER NOT NULL DEFAULT 0,
    timed_out INTEGER NOT NULL DEFAULT 0,
    force_end INTEGER NOT NULL DEFAULT 0,
    transcript TEXT NOT NULL DEFAULT '',
    feedback TEXT NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, number)
);
`
