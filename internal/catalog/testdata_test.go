package catalog

const sampleCatalog = `
rooms:
  - id: room-1
    name: Sala 1
    rows:
      - label: A
        seats:
          - {number: 1, type: STANDARD}
          - {number: 2, type: STANDARD}
      - label: B
        seats:
          - {number: 1, type: VIP, zone: premium}
showtimes:
  - id: show-1
    movieId: movie-1
    roomId: room-1
    startsAt: 2026-10-20T20:00:00Z
    format: 2D
    language: es
    pricingRuleId: rule-vip
pricingRules:
  - id: rule-std
    showtimeId: show-1
    seatType: STANDARD
    basePrice: 5000
  - id: rule-vip
    seatType: VIP
    basePrice: 9000
products:
  - id: popcorn
    name: Popcorn
    price: 2500
    trackStock: true
    stock: 3
    active: true
  - id: water
    name: Water
    price: 1000
    active: true
promotions:
  - id: promo-tuesday
    name: Tuesday 2x1
    kind: DAY_OF_WEEK_TICKET
    weekday: 2
    active: true
`
