package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CHAT SESSION TABLE
    -- ==========================================================================
    -- Messages are embedded as an ordered array of objects on the session
    -- document. Appends are read-modify-write from the client; concurrent
    -- appends from two clients can lose one message (known limitation).
    DEFINE TABLE IF NOT EXISTS chat_session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON chat_session TYPE string DEFAULT 'New Chat';
    DEFINE FIELD IF NOT EXISTS owner ON chat_session TYPE string;
    DEFINE FIELD IF NOT EXISTS messages ON chat_session TYPE array<object> DEFAULT [];
    -- Note: Must REMOVE then DEFINE to ensure FLEXIBLE is set (IF NOT EXISTS won't update existing field)
    REMOVE FIELD IF EXISTS messages.* ON chat_session;
    DEFINE FIELD messages.* ON chat_session TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON chat_session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON chat_session TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chat_session_owner ON chat_session FIELDS owner;
    DEFINE INDEX IF NOT EXISTS chat_session_updated ON chat_session FIELDS updated_at;
`
