package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- POLICY TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS policy SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON policy TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON policy TYPE string;
    DEFINE FIELD IF NOT EXISTS stakeholders ON policy TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS topics ON policy TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS source ON policy TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON policy TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON policy TYPE datetime DEFAULT time::now();

    DEFINE ANALYZER IF NOT EXISTS policy_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS policy_title_ft ON policy FIELDS title FULLTEXT ANALYZER policy_analyzer BM25;

    -- ==========================================================================
    -- DEBATE SESSION TABLE
    -- ==========================================================================
    -- One row per session, rewritten whenever the session changes state
    DEFINE TABLE IF NOT EXISTS debate_session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS policy_id ON debate_session TYPE string;
    DEFINE FIELD IF NOT EXISTS policy_title ON debate_session TYPE string;
    DEFINE FIELD IF NOT EXISTS state ON debate_session TYPE string;
    DEFINE FIELD IF NOT EXISTS resume_state ON debate_session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS stakeholders ON debate_session TYPE array<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS topics ON debate_session TYPE array<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS current_topic_index ON debate_session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS current_round ON debate_session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS speaking_time ON debate_session TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS last_sequence ON debate_session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS controller ON debate_session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS config ON debate_session TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON debate_session TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON debate_session TYPE datetime;

    DEFINE INDEX IF NOT EXISTS debate_session_state ON debate_session FIELDS state;
    DEFINE INDEX IF NOT EXISTS debate_session_policy ON debate_session FIELDS policy_id;

    -- ==========================================================================
    -- DEBATE MESSAGE TABLE (the persisted message log)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS debate_message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON debate_message TYPE string;
    DEFINE FIELD IF NOT EXISTS sequence ON debate_message TYPE int;
    DEFINE FIELD IF NOT EXISTS sender ON debate_message TYPE string;
    DEFINE FIELD IF NOT EXISTS sender_name ON debate_message TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS message_type ON debate_message TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON debate_message TYPE string;
    DEFINE FIELD IF NOT EXISTS referenced_message_id ON debate_message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS topic_id ON debate_message TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS round ON debate_message TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS metadata ON debate_message TYPE object FLEXIBLE DEFAULT {};
    DEFINE FIELD IF NOT EXISTS timestamp ON debate_message TYPE datetime;

    -- Unique constraint: one message per sequence number within a session
    DEFINE INDEX IF NOT EXISTS debate_message_seq ON debate_message FIELDS session_id, sequence UNIQUE;
`
