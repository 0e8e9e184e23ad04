package app

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("tourbook/internal/app")
