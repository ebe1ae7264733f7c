package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation_id ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS sender_id ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON message TYPE string DEFAULT "sending"
        ASSERT $value IN ["sending", "delivered", "read"];
    DEFINE FIELD IF NOT EXISTS read_by ON message TYPE array<string> DEFAULT [];
    -- Stamped by the server at creation; immutable afterwards. Clients must
    -- never supply their own send time.
    DEFINE FIELD IF NOT EXISTS sent_at ON message TYPE datetime DEFAULT time::now() READONLY;
    DEFINE FIELD IF NOT EXISTS metadata ON message TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conversation_id, sent_at;
    DEFINE INDEX IF NOT EXISTS message_sender ON message FIELDS conversation_id, sender_id, sent_at;

    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS creator_id ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS participant_ids ON conversation TYPE array<string>
        ASSERT array::len($value) >= 2;
    DEFINE FIELD IF NOT EXISTS auto_reply ON conversation TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now() READONLY;
    DEFINE FIELD IF NOT EXISTS last_activity_at ON conversation TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS conversation_participants ON conversation FIELDS participant_ids;

    -- ==========================================================================
    -- PROFILE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS profile SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON profile TYPE string;
    DEFINE FIELD IF NOT EXISTS display_name ON profile TYPE string;
    DEFINE FIELD IF NOT EXISTS avatar_emoji ON profile TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS online ON profile TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS last_seen_at ON profile TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS profile_user ON profile FIELDS user_id UNIQUE;
`
