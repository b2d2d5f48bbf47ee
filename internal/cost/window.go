package cost

import "time"

// Hour is the trailing window health extrapolates daily and monthly cost from.
const Hour = time.Hour
