package main

// workerConfig is the notification worker's environment.
type workerConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	RunLocal bool   `env:"RUN_LOCAL" envDefault:"false"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"no-reply@mithilamakhana.com"`
	ShopName     string `env:"SHOP_NAME" envDefault:"Mithila Makhana"`

	LocalBody string `env:"LOCAL_SQS_BODY"`
}

// Mail is one rendered outbound message.
type Mail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}
