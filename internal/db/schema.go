package db

// Schema is the DDL for the phishbeads database.
const Schema = `
CREATE TABLE IF NOT EXISTS indicators (
    id           INTEGER PRIMARY KEY,
    fingerprint  TEXT NOT NULL,
    kind         INTEGER NOT NULL DEFAULT 0,
    UNIQUE(fingerprint, kind)
);

CREATE TABLE IF NOT EXISTS emails (
    id           INTEGER PRIMARY KEY,
    message_id   TEXT NOT NULL UNIQUE,
    label        TEXT,
    status       INTEGER NOT NULL DEFAULT 0,
    timestamp    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tags (
    id           INTEGER PRIMARY KEY,
    email_id     INTEGER NOT NULL,
    raw          TEXT NOT NULL,
    type         TEXT NOT NULL,
    fingerprint  TEXT NOT NULL,
    indicator_id INTEGER DEFAULT NULL,
    UNIQUE(email_id, raw, type),
    FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS incidents (
    id           INTEGER PRIMARY KEY,
    tag_id       INTEGER NOT NULL UNIQUE,
    timestamp    INTEGER NOT NULL,
    reported     INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS meta (
    key          TEXT PRIMARY KEY,
    value        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
    name         TEXT PRIMARY KEY,
    holder       TEXT NOT NULL,
    expires      INTEGER NOT NULL
);

CREATE VIEW IF NOT EXISTS v_incidents AS
    SELECT inc.id AS id, inc.timestamp AS timestamp, tag.raw AS raw,
           tag.type AS type, tag.fingerprint AS fingerprint,
           COALESCE(ind.kind, 0) AS kind, email.message_id AS context,
           inc.reported AS reported
    FROM incidents inc
    JOIN tags tag ON inc.tag_id = tag.id
    JOIN emails email ON tag.email_id = email.id
    LEFT JOIN indicators ind ON tag.indicator_id = ind.id;

CREATE VIEW IF NOT EXISTS v_indications AS
    SELECT inc.id AS id, inc.reported AS reported,
           email.message_id AS message_id, tag.raw AS raw, tag.type AS type
    FROM incidents inc
    JOIN tags tag ON inc.tag_id = tag.id
    JOIN emails email ON tag.email_id = email.id;

CREATE INDEX IF NOT EXISTS idx_indicators_fingerprint ON indicators(fingerprint);
CREATE INDEX IF NOT EXISTS idx_tags_unresolved ON tags(indicator_id) WHERE indicator_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_tags_email ON tags(email_id);
CREATE INDEX IF NOT EXISTS idx_incidents_reported ON incidents(reported);
`
