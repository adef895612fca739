package database

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS newsletter_urls (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS read_posts (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		post_id TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, post_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_newsletter_urls_user_created ON newsletter_urls(user_id, created_at)`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS newsletter_urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS read_posts (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		post_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, post_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_newsletter_urls_user_created ON newsletter_urls(user_id, created_at)`,
}
