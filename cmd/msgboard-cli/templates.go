package main

const basicTemplate = `# msgboard - Basic Configuration
server:
  listen: "0.0.0.0:3000"
  hot_reload: true

daemon:
  listen: "127.0.0.1:5000"

storage:
  path: storage/data.json

pages:
  root: .

logging:
  level: info
  format: text
  output: stdout
`

const fullTemplate = `# msgboard - Full Configuration
server:
  listen: "0.0.0.0:3000"
  http2: true
  hot_reload: true
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 120s
  shutdown_timeout: 10s

  cors:
    enabled: false
    allowed_origins: ["*"]
    allowed_methods: ["GET", "POST"]
    allowed_headers: ["Content-Type"]
    max_age: 3600

  headers:
    add:
      X-Content-Type-Options: nosniff
    remove: []

# The web front sends every submission here; the storage daemon binds it.
daemon:
  listen: "127.0.0.1:5000"
  max_datagram_size: 1024

storage:
  path: storage/data.json

pages:
  root: .
  home: index.html
  message: message.html
  error: error.html

logging:
  level: info
  format: json
  output: stdout

rate_limit:
  enabled: true
  requests_per_second: 5
  burst: 10

metrics:
  enabled: true
  path: /_board/metrics

feed:
  enabled: true
  path: /_board/feed
`
