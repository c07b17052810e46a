package experiment

// Version is the agency core version recorded with every run.
const Version = "0.3.0"
